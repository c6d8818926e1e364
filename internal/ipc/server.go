package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"voxelpipe/internal/jobs"
	"voxelpipe/internal/logging"
	"voxelpipe/internal/module"
	"voxelpipe/internal/pipelinedef"
	"voxelpipe/internal/services"
)

// Killer terminates the job a scheduler is running.
type Killer interface {
	Kill(jobID string) bool
	Active() (string, bool)
}

// Deps are the collaborators of the server.
type Deps struct {
	Store   *jobs.Store
	Modules *module.Registry
	// Scheduler is nil when the scheduler runs in another process.
	Scheduler Killer
	Logger    *slog.Logger
}

// Server exposes job control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Modules == nil {
		return nil, errors.New("ipc server requires store and module registry")
	}
	logger := logging.NewComponentLogger(deps.Logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{deps: deps, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the server is closed.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the server if needed"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Open client
// connections are served until the clients disconnect.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	deps   Deps
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.PID = os.Getpid()
	resp.DatabasePath = s.deps.Store.Path()
	if s.deps.Scheduler != nil {
		resp.Scheduler = true
		resp.ActiveJob, _ = s.deps.Scheduler.Active()
	}
	return nil
}

func (s *service) Request(req RequestJobRequest, resp *RequestJobResponse) error {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = pipelinedef.DefaultJobName
	}
	kwargs := req.Kwargs
	if name == pipelinedef.DefaultJobName {
		p, err := pipelinedef.FromKwargs(kwargs)
		if err != nil {
			return services.Wrap(services.ErrValidation, "ipc", "request", "invalid pipeline", err)
		}
		if err := p.Pin(s.deps.Modules); err != nil {
			return services.Wrap(services.ErrValidation, "ipc", "request", "invalid pipeline", err)
		}
		if kwargs, err = p.Kwargs(); err != nil {
			return err
		}
	}
	ctx := services.WithRequestID(s.ctx, uuid.NewString())
	insert := s.deps.Store.RequestJob
	if req.Hold {
		insert = s.deps.Store.CreateStub
	}
	job, err := insert(ctx, name, kwargs, req.SourceUUID)
	if err != nil {
		return err
	}
	resp.Job = *job
	logging.WithContext(ctx, s.logger).Info("job requested",
		logging.String(logging.FieldEventType, "job_requested"),
		logging.String(logging.FieldJobID, job.UUID),
		logging.String("job", job.Name),
		logging.Bool("held", req.Hold),
	)
	return nil
}

func (s *service) List(req ListRequest, resp *ListResponse) error {
	statuses := make([]jobs.Status, 0, len(req.Statuses))
	for _, value := range req.Statuses {
		status, err := jobs.ParseStatus(value)
		if err != nil {
			return err
		}
		statuses = append(statuses, status)
	}
	list, err := s.deps.Store.ListJobs(s.ctx, statuses...)
	if err != nil {
		return err
	}
	resp.Jobs = make([]jobs.Job, 0, len(list))
	for _, job := range list {
		resp.Jobs = append(resp.Jobs, *job)
	}
	return nil
}

func (s *service) job(id string) (*jobs.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, services.Wrap(services.ErrValidation, "ipc", "lookup job", "job uuid required", nil)
	}
	job, err := s.deps.Store.GetJob(s.ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "ipc", "lookup job", fmt.Sprintf("job %s not found", id), nil)
	}
	return job, nil
}

func (s *service) Show(req ShowRequest, resp *ShowResponse) error {
	job, err := s.job(req.UUID)
	if err != nil {
		return err
	}
	events, err := s.deps.Store.Events(s.ctx, job.UUID, "")
	if err != nil {
		return err
	}
	counts, err := s.deps.Store.ObjectCounts(s.ctx, job.UUID)
	if err != nil {
		return err
	}
	resp.Job = *job
	resp.Counts = counts
	resp.Events = make([]jobs.Event, 0, len(events))
	for _, ev := range events {
		resp.Events = append(resp.Events, *ev)
	}
	return nil
}

func (s *service) Kill(req KillRequest, resp *KillResponse) error {
	job, err := s.job(req.UUID)
	if err != nil {
		return err
	}
	ctx := services.WithJobID(services.WithRequestID(s.ctx, uuid.NewString()), job.UUID)
	logger := logging.WithContext(ctx, s.logger)

	switch {
	case job.Status.Terminal():
		resp.Message = fmt.Sprintf("job already %s", job.Status)
		return nil
	case job.Status == jobs.StatusRequested || job.Status == jobs.StatusStub:
		if _, err := s.deps.Store.AppendEvent(ctx, job.UUID, jobs.EventKilled, "killed before start", nil); err != nil {
			return err
		}
		if err := s.deps.Store.SetStatus(ctx, job.UUID, jobs.StatusKilled, 0); err != nil {
			return err
		}
		resp.Killed, resp.Method, resp.Message = true, KillDequeued, "job removed from the queue"
	case s.deps.Scheduler != nil && s.deps.Scheduler.Kill(job.UUID):
		resp.Killed, resp.Method, resp.Message = true, KillScheduler, "kill requested from the scheduler"
	case job.PID > 0:
		// The scheduler runs in another process; signal the job directly.
		if err := unix.Kill(job.PID, unix.SIGTERM); err != nil {
			logging.WarnWithContext(logger, "failed to signal job process", "ipc_kill_failed",
				logging.Error(err),
				logging.Int("pid", job.PID),
				logging.String(logging.FieldErrorHint, "the process may have exited already"),
			)
			resp.Message = fmt.Sprintf("signal pid %d: %v", job.PID, err)
			return nil
		}
		resp.Killed, resp.Method, resp.Message = true, KillSignal, fmt.Sprintf("sent SIGTERM to pid %d", job.PID)
	default:
		resp.Message = "job has no process to kill"
		return nil
	}
	logger.Info("job kill requested",
		logging.String(logging.FieldEventType, "job_kill"),
		logging.String("method", resp.Method),
	)
	return nil
}

func (s *service) Release(req ReleaseRequest, resp *ReleaseResponse) error {
	job, err := s.job(req.UUID)
	if err != nil {
		return err
	}
	if job.Status != jobs.StatusStub {
		return services.Wrap(services.ErrValidation, "ipc", "release", fmt.Sprintf("job %s is %s, not held", job.UUID, job.Status), nil)
	}
	if err := s.deps.Store.SetStatus(s.ctx, job.UUID, jobs.StatusRequested, 0); err != nil {
		return err
	}
	if job, err = s.job(job.UUID); err != nil {
		return err
	}
	resp.Job = *job
	return nil
}

func (s *service) Delete(req DeleteRequest, resp *DeleteResponse) error {
	job, err := s.job(req.UUID)
	if err != nil {
		return err
	}
	if job.Status != jobs.StatusStub && !job.Status.Terminal() {
		return services.Wrap(services.ErrValidation, "ipc", "delete", fmt.Sprintf("job %s is %s; kill it first", job.UUID, job.Status), nil)
	}
	if err := s.deps.Store.DeleteJob(s.ctx, job.UUID); err != nil {
		return err
	}
	resp.Deleted = true
	s.logger.Info("job deleted",
		logging.String(logging.FieldEventType, "job_deleted"),
		logging.String(logging.FieldJobID, job.UUID),
	)
	return nil
}

func (s *service) Modules(req ModulesRequest, resp *ModulesResponse) error {
	group := strings.Trim(strings.TrimSpace(req.Group), "/")
	for _, desc := range s.deps.Modules.List() {
		path := strings.Join(desc.Group, "/")
		if group != "" && path != group && !strings.HasPrefix(path, group+"/") {
			continue
		}
		resp.Modules = append(resp.Modules, desc)
	}
	return nil
}

func (s *service) Objects(req ObjectsRequest, resp *ObjectsResponse) error {
	job, err := s.job(req.UUID)
	if err != nil {
		return err
	}
	counts, err := s.deps.Store.ObjectCounts(s.ctx, job.UUID)
	if err != nil {
		return err
	}
	resp.Counts = counts
	if req.CountsOnly {
		return nil
	}
	records, err := s.deps.Store.Objects(s.ctx, job.UUID, jobs.ObjectFilter{
		SourceFilename: req.SourceFilename,
		TargetFilename: req.TargetFilename,
		Skipped:        req.Skipped,
	})
	if err != nil {
		return err
	}
	resp.Objects = make([]jobs.ObjectRecord, 0, len(records))
	for _, rec := range records {
		resp.Objects = append(resp.Objects, *rec)
	}
	return nil
}
