// Package middleware decorates a ports.ConversationStore with extra
// behavior such as encryption at rest.
package middleware

import "github.com/aretw0/prdflow/pkg/ports"

// Middleware allows wrapping a ConversationStore to add behavior.
type Middleware func(ports.ConversationStore) ports.ConversationStore

// Chain applies mws so that the first one is the outermost.
func Chain(store ports.ConversationStore, mws ...Middleware) ports.ConversationStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
