// Package runtime wires configuration, logging, metrics and the backend
// into session processors and the offline sync tool.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close(context.Background())
//	h, _ := rt.CreateSession(ctx, "org/project/RUN-7")
//	_, _ = h.Enqueue(ctx, op, false)
//	acked := h.Wait(ctx)
//	_ = h.Close(ctx)
package runtime
