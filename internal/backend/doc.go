/*
Package backend is a development stand-in for the workflow service.

It serves the same surface the client speaks:

	POST /start_conversation        open a thread, first question answered by the prompt
	POST /continue_clarifier        pair answers with pending questions
	GET  /get_state/{thread_id}     inspect a thread
	POST /run_workflow              run the pipeline in the background
	GET  /get_result/{thread_id}    fetch the merged result
	POST /run_workflow_stream       NDJSON stream (one-shot, or per thread)
	GET  /ws/{client_id}            persistent socket conversation
	GET  /health                    liveness

Stage outputs are canned. Threads live in a ports.ConversationStore, so
several replicas can share them through Redis.
*/
package backend
