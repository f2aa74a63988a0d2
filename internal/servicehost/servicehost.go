// Package servicehost adapts the agent's run loop to kardianos/service
// (spec C15), so the same binary installs and runs as a Windows service or
// a systemd/launchd unit. The teacher only referenced service.Logger as an
// interface type (internal/driver/servicelog/logger.go); the actual
// service.Interface wiring here is new, built the way the kardianos/service
// README documents a long-running Start/Stop program.
package servicehost

import (
	"context"
	"fmt"

	"github.com/kardianos/service"

	"github.com/warpcomdev/edgevisiond/internal/servicelog"
)

// Runnable is the long-running program the service host supervises.
// Run blocks until ctx is cancelled or the pipeline fails fatally.
type Runnable interface {
	Run(ctx context.Context) error
}

// program implements service.Interface around a Runnable.
type program struct {
	runnable Runnable
	log      servicelog.Logger
	cancel   context.CancelFunc
	done     chan error
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		p.done <- p.runnable.Run(ctx)
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		err := <-p.done
		if err != nil {
			p.log.Error("pipeline exited with error", servicelog.Error(err))
		}
	}
	return nil
}

// Config describes how the service is installed and identified to the OS
// service manager.
type Config struct {
	Name        string
	DisplayName string
	Description string
}

// Host wraps a configured service.Service plus the Runnable it drives.
type Host struct {
	svc service.Service
	log servicelog.Logger
}

// New builds a Host around runnable, registered under cfg's identity.
func New(cfg Config, runnable Runnable, log servicelog.Logger) (*Host, error) {
	p := &program{runnable: runnable, log: log}
	svcConfig := &service.Config{
		Name:        cfg.Name,
		DisplayName: cfg.DisplayName,
		Description: cfg.Description,
	}
	svc, err := service.New(p, svcConfig)
	if err != nil {
		return nil, fmt.Errorf("build service host: %w", err)
	}
	return &Host{svc: svc, log: log}, nil
}

// Run starts the service, blocking until the OS service manager signals
// shutdown (or, when running interactively, until the process receives a
// termination signal).
func (h *Host) Run() error {
	return h.svc.Run()
}

// Install registers the binary with the OS service manager.
func (h *Host) Install() error {
	return h.svc.Install()
}

// Uninstall removes the binary's OS service manager registration.
func (h *Host) Uninstall() error {
	return h.svc.Uninstall()
}

// Logger returns a service.Logger that also writes to the OS-native log
// (Windows Event Log, syslog), for use as servicelog.New's svcLogger
// argument once the host is running under the service manager.
func (h *Host) Logger() (service.Logger, error) {
	return h.svc.Logger(nil)
}
