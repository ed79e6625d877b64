// Package memory provides process-local user and refresh-token stores for
// development (STORAGE_DRIVER=memory) and tests. Data is lost on exit.
package memory
