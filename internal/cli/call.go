package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"voicedesk/internal/bootstrap"
	"voicedesk/internal/domain"
	"voicedesk/internal/usecase"
)

func NewCallCmd(deps *Dependencies) *cobra.Command {
	var agentID string
	var language string
	var maxDuration time.Duration
	var muted bool

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Talk to the agent from the terminal",
		Long:  "Open a voice call with the configured agent using the default microphone and speakers.\nCtrl+C hangs up.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config
			if agentID != "" {
				cfg.Session.AgentID = agentID
			}
			if language != "" {
				cfg.Session.Language = language
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if maxDuration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, maxDuration)
				defer cancel()
			}

			out := newFormatter(cmd.OutOrStdout())
			sink := newCallPrinter(out)
			services, err := bootstrap.Assemble(cfg, deps.Logger, sink,
				usecase.WithOnTranscript(sink.transcript),
				usecase.WithOnResponse(sink.response),
			)
			if err != nil {
				return err
			}
			services.Start(ctx)
			defer services.Close()

			out.Info(fmt.Sprintf("Calling agent %s (%s). Ctrl+C to hang up.", cfg.Session.AgentID, cfg.Session.Language))
			if err := services.Facade.Mount(ctx, true); err != nil {
				return err
			}
			// The mute preference is held until the call connects.
			if muted && !services.Facade.Snapshot().Muted {
				if _, err := services.Facade.ToggleMute(); err != nil {
					return err
				}
				sink.info("Microphone muted")
			}

			select {
			case <-ctx.Done():
				services.Facade.Unmount()
			case <-sink.finished():
			}
			sink.flush()
			if msg := sink.failure(); msg != "" {
				return fmt.Errorf("call failed: %s", msg)
			}
			sink.success("Call ended")
			return nil
		},
	}

	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "Agent id (overrides VOICEDESK_SESSION_AGENT_ID)")
	cmd.Flags().StringVarP(&language, "language", "l", "", "Call language, e.g. en-US or es")
	cmd.Flags().DurationVar(&maxDuration, "max-duration", 0, "Hang up automatically after this long")
	cmd.Flags().BoolVar(&muted, "muted", false, "Start with the microphone muted")

	return cmd
}

// callPrinter prints each finished turn once. Caller text is printed when
// the caller stops talking, agent text when the agent does.
type callPrinter struct {
	out *formatter

	mu            sync.Mutex
	latestCaller  string
	latestAgent   string
	printedCaller string
	printedAgent  string
	agentTalking  bool
	userTalking   bool
	errMsg        string

	done     chan struct{}
	doneOnce sync.Once
}

func newCallPrinter(out *formatter) *callPrinter {
	return &callPrinter{out: out, done: make(chan struct{})}
}

func (p *callPrinter) finished() <-chan struct{} {
	return p.done
}

func (p *callPrinter) failure() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errMsg
}

func (p *callPrinter) info(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.Info(msg)
}

func (p *callPrinter) success(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.Success(msg)
}

func (p *callPrinter) transcript(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latestCaller = text
}

func (p *callPrinter) response(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latestAgent = text
}

func (p *callPrinter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushCallerLocked()
	p.flushAgentLocked()
}

func (p *callPrinter) flushCallerLocked() {
	if p.latestCaller != "" && p.latestCaller != p.printedCaller {
		p.out.Caller(p.latestCaller)
		p.printedCaller = p.latestCaller
	}
}

func (p *callPrinter) flushAgentLocked() {
	if p.latestAgent != "" && p.latestAgent != p.printedAgent {
		p.out.Agent(p.latestAgent)
		p.printedAgent = p.latestAgent
	}
}

func (p *callPrinter) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	switch state {
	case domain.SessionStateConnected:
		p.mu.Lock()
		p.out.Success("Connected")
		p.mu.Unlock()
	case domain.SessionStateError:
		p.mu.Lock()
		if p.errMsg == "" {
			p.errMsg = string(reason)
		}
		p.mu.Unlock()
		p.doneOnce.Do(func() { close(p.done) })
	case domain.SessionStateEnded:
		p.doneOnce.Do(func() { close(p.done) })
	}
}

func (p *callPrinter) TranscriptUpdated(domain.TranscriptUpdate) {}

func (p *callPrinter) TalkingChanged(agentTalking bool, userTalking bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.userTalking && !userTalking {
		p.flushCallerLocked()
	}
	if p.agentTalking && !agentTalking {
		p.flushAgentLocked()
	}
	p.agentTalking, p.userTalking = agentTalking, userTalking
}

func (p *callPrinter) SessionError(code domain.ErrorCode, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if code != domain.ErrorCodeMute {
		p.errMsg = detail
	}
	p.out.Error(fmt.Sprintf("%s: %s", code, detail))
}
