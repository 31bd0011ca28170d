// Package transport delivers completed turns and discussion events to
// websocket observers. Delivery is best-effort: a failed or lagging
// connection is dropped, never allowed to stall the discussion loop.
package transport
