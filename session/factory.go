package session

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/gaborage/vkflow/attempt"
	"github.com/gaborage/vkflow/httpclient"
	"github.com/gaborage/vkflow/logger"
	"github.com/gaborage/vkflow/metrics"
	"github.com/gaborage/vkflow/request"
	"github.com/gaborage/vkflow/task"
	"github.com/gaborage/vkflow/token"
)

// Dependencies are the collaborators shared by every session of a Factory.
type Dependencies struct {
	AppID        string
	Client       httpclient.Client
	Builder      task.RequestBuilder
	Authorizator Authorizator
	Captcha      CaptchaPresenter
	Storage      token.Storage
	Logger       logger.Logger
	Metrics      *metrics.Recorder
	// Window is the rate window of every session scheduler.
	Window time.Duration
}

// Factory builds sessions, tasks and attempts from one set of dependencies.
type Factory struct {
	deps   Dependencies
	nextID atomic.Int64
}

func NewFactory(deps Dependencies) (*Factory, error) {
	if deps.Client == nil {
		return nil, errors.New("session: transport client is required")
	}
	if deps.Builder == nil {
		return nil, errors.New("session: request builder is required")
	}
	if deps.Storage == nil {
		deps.Storage = token.NewMemoryStorage()
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop()
	}
	if deps.Window <= 0 {
		deps.Window = attempt.DefaultWindow
	}
	return &Factory{deps: deps}, nil
}

// NewSession builds a session with its own scheduler.
func (f *Factory) NewSession(opts Options) *Session {
	return newSession(f, opts)
}

// NewAttempt has the task.AttemptFactory signature.
func (f *Factory) NewAttempt(req *httpclient.Request, name string, concurrent bool, cb attempt.Callbacks) attempt.Attempt {
	return attempt.NewHTTPAttempt(f.deps.Client, req, cb,
		attempt.Named(name, concurrent),
		attempt.WithRecorder(f.deps.Metrics),
	)
}

// NewTask creates an unstarted task with the next task id.
func (f *Factory) NewTask(req *request.Request, cb request.Callbacks, deps task.Deps) *task.Task {
	return task.New(f.nextID.Add(1), req, cb, f.taskDeps(deps))
}

// NewFailedTask creates a task that already failed with err.
func (f *Factory) NewFailedTask(err error, cb request.Callbacks) *task.Task {
	return task.NewFailed(f.nextID.Add(1), err, cb, f.taskDeps(task.Deps{}))
}

func (f *Factory) taskDeps(deps task.Deps) task.Deps {
	if deps.Builder == nil {
		deps.Builder = f.deps.Builder
	}
	if deps.NewAttempt == nil {
		deps.NewAttempt = f.NewAttempt
	}
	if deps.Logger == nil {
		deps.Logger = f.deps.Logger
	}
	if deps.Metrics == nil {
		deps.Metrics = f.deps.Metrics
	}
	return deps
}
