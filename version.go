package prdflow

import _ "embed"

// Version is the release version of prdflow.
//
//go:embed VERSION
var Version string
