package workerpool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
)

// Handler answers one request kind inside a worker process.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Serve answers requests read from r until end of input. Each request gets
// exactly one response line on w; handler errors and panics are reported in
// the response and do not end the loop.
func Serve(ctx context.Context, r io.Reader, w io.Writer, handlers map[string]Handler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	enc := json.NewEncoder(w)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var req Request
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp.Error = fmt.Sprintf("decode request: %v", err)
		} else {
			resp = handle(ctx, handlers, req)
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

func handle(ctx context.Context, handlers map[string]Handler, req Request) (resp Response) {
	h, ok := handlers[req.Kind]
	if !ok {
		return Response{Error: fmt.Sprintf("unknown request kind %q", req.Kind)}
	}
	defer func() {
		if r := recover(); r != nil {
			resp = Response{Error: fmt.Sprintf("handler %s panicked: %v\n%s", req.Kind, r, debug.Stack())}
		}
	}()
	out, err := h(ctx, req.Payload)
	if err != nil {
		return Response{Error: err.Error()}
	}
	if out == nil {
		return Response{}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return Response{Error: fmt.Sprintf("encode response: %v", err)}
	}
	return Response{Payload: data}
}
