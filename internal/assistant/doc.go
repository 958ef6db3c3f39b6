// Package assistant is the client for the external assistant execution
// engine. Ask returns a run handle immediately; the model run completes
// asynchronously and is observed through RunStatus and LastMessage.
package assistant
