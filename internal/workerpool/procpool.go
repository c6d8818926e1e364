package workerpool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"

	"voxelpipe/internal/logging"
)

// ErrKilled is the result of requests abandoned by Kill.
var ErrKilled = errors.New("worker pool killed")

// Request is a serializable task for a worker process.
type Request struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewRequest encodes payload into a request of the given kind.
func NewRequest(kind string, payload any) (Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("encode %s request: %w", kind, err)
	}
	return Request{Kind: kind, Payload: data}, nil
}

// Response is a worker's answer to one request.
type Response struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Result pairs a request with its outcome. Err is set when the request
// failed in the worker or never reached one.
type Result struct {
	Request  Request
	Response Response
	Err      error
}

// Decode unmarshals the response payload.
func (r Result) Decode(dst any) error {
	if r.Err != nil {
		return r.Err
	}
	if len(r.Response.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(r.Response.Payload, dst)
}

// CommandFunc builds the command of one worker process. It should use
// exec.CommandContext so cancelling ctx terminates the worker.
type CommandFunc func(ctx context.Context) *exec.Cmd

type procTask struct {
	req    Request
	result chan Result
}

// ProcPool runs requests in a fixed number of worker subprocesses.
type ProcPool struct {
	opts    options
	logger  *slog.Logger
	command CommandFunc
	queue   *queue[procTask]
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	started atomic.Bool
	stopped atomic.Bool
}

// NewProcPool returns a process pool that is not yet started.
func NewProcPool(command CommandFunc, opts ...Option) *ProcPool {
	o := buildOptions(opts)
	return &ProcPool{
		opts:    o,
		logger:  logging.NewComponentLogger(o.logger, "procpool"),
		command: command,
		queue:   newQueue[procTask](),
	}
}

// Size returns the number of worker processes.
func (p *ProcPool) Size() int { return p.opts.size }

// Start launches the worker processes. A worker that fails to start answers
// every request it takes with the start error.
func (p *ProcPool) Start(ctx context.Context) error {
	if p.command == nil {
		return errors.New("process pool requires a command")
	}
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("process pool already started")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	go p.queue.run(p.ctx)
	p.wg.Add(p.opts.size)
	for i := 0; i < p.opts.size; i++ {
		go p.work(i)
	}
	return nil
}

// Submit enqueues a request. The returned channel receives exactly one
// result. It must not race Stop or Kill.
func (p *ProcPool) Submit(req Request) <-chan Result {
	result := make(chan Result, 1)
	if !p.started.Load() || p.stopped.Load() {
		result <- Result{Request: req, Err: ErrNotRunning}
		return result
	}
	select {
	case p.queue.in <- procTask{req: req, result: result}:
	case <-p.ctx.Done():
		result <- Result{Request: req, Err: ErrKilled}
	}
	return result
}

// Stop closes the queue, waits until every queued request is answered and
// lets the workers exit on end of input.
func (p *ProcPool) Stop() {
	if !p.started.Load() || !p.stopped.CompareAndSwap(false, true) {
		return
	}
	close(p.queue.in)
	p.wg.Wait()
	p.cancel()
	<-p.queue.done
}

// Kill terminates the worker processes. Running and queued requests are
// answered with ErrKilled.
func (p *ProcPool) Kill() {
	if !p.started.Load() {
		return
	}
	p.stopped.Store(true)
	p.cancel()
	p.wg.Wait()
	<-p.queue.done
	for _, task := range p.queue.abandoned {
		task.result <- Result{Request: task.req, Err: ErrKilled}
	}
	p.queue.abandoned = nil
}

func (p *ProcPool) work(idx int) {
	defer p.wg.Done()
	logger := p.logger.With(logging.Int("worker", idx))

	w, err := p.spawn()
	if err != nil {
		logging.WarnWithContext(logger, "worker process failed to start", "worker_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the worker command exists and is executable"),
			logging.String(logging.FieldImpact, "requests taken by this worker fail"),
		)
	}
	defer func() {
		if w != nil {
			w.close(logger)
		}
	}()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.queue.out:
			if !ok {
				return
			}
			if p.ctx.Err() != nil {
				task.result <- Result{Request: task.req, Err: ErrKilled}
				return
			}
			if w == nil {
				task.result <- Result{Request: task.req, Err: fmt.Errorf("worker %d unavailable: %w", idx, err)}
				continue
			}
			resp, callErr := w.call(task.req)
			if callErr != nil {
				if p.ctx.Err() != nil {
					callErr = ErrKilled
				}
				task.result <- Result{Request: task.req, Err: callErr}
				if errors.Is(callErr, errWorkerGone) || errors.Is(callErr, ErrKilled) {
					w.close(logger)
					w, err = nil, callErr
				}
				continue
			}
			var taskErr error
			if resp.Error != "" {
				taskErr = errors.New(resp.Error)
			}
			task.result <- Result{Request: task.req, Response: resp, Err: taskErr}
		}
	}
}

var errWorkerGone = errors.New("worker process exited")

type worker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	enc    *json.Encoder
}

func (p *ProcPool) spawn() (*worker, error) {
	cmd := p.command(p.ctx)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	return &worker{cmd: cmd, stdin: stdin, stdout: scanner, enc: json.NewEncoder(stdin)}, nil
}

func (w *worker) call(req Request) (Response, error) {
	if err := w.enc.Encode(req); err != nil {
		return Response{}, fmt.Errorf("%w: %v", errWorkerGone, err)
	}
	if !w.stdout.Scan() {
		if err := w.stdout.Err(); err != nil {
			return Response{}, fmt.Errorf("%w: %v", errWorkerGone, err)
		}
		return Response{}, errWorkerGone
	}
	var resp Response
	if err := json.Unmarshal(w.stdout.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("decode worker response: %w", err)
	}
	return resp, nil
}

// close signals end of input and waits for the process.
func (w *worker) close(logger *slog.Logger) {
	_ = w.stdin.Close()
	if err := w.cmd.Wait(); err != nil {
		logger.Debug("worker process exited", logging.Error(err))
	}
}
