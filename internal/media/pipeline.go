package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/firestige/gb28181-nvr/internal/log"
)

// StageName identifies one node of a pipeline graph, in the order
// frames actually flow: a source produces access units, the
// transcoder (an external black box, per spec §1's "build and run a
// pipeline from a declarative graph") normalizes them to the
// negotiated profile, the payloader packetizes, and the sink writes
// RTP to the network.
type StageName string

const (
	StageSource     StageName = "source"
	StageTranscode  StageName = "transcode"
	StagePayload    StageName = "payload"
	StageSink       StageName = "sink"
)

// StageState is the lifecycle state of one stage.
type StageState string

const (
	StagePending StageState = "pending"
	StageRunning StageState = "running"
	StageStopped StageState = "stopped"
	StageFailed  StageState = "failed"
)

// StageTransition is reported on PipelineConfig.OnTransition whenever a
// stage changes state, carrying the error (if any) that drove a
// transition to StageFailed.
type StageTransition struct {
	Stage StageName
	State StageState
	Err   error
	At    time.Time
}

// Source produces successive H.264 access units (each a slice of
// complete NAL units) until ctx is cancelled or the source is
// exhausted, in which case it returns io.EOF-equivalent via a closed
// return with err == nil. Grounded on the teacher's
// plugin.Capturer.Capture(ctx, chan) shape (internal/pipeline/pipeline.go).
type Source interface {
	Run(ctx context.Context, out chan<- [][]byte) error
	Close() error
}

// Sink consumes one access unit at a negotiated RTP timestamp. The
// concrete implementation is RTPSender.WriteAccessUnit.
type Sink interface {
	WriteAccessUnit(nalUnits [][]byte, timestamp uint32) error
}

// PipelineConfig wires one channel's source to one RTP sink.
type PipelineConfig struct {
	SessionID    string
	ChannelID    string
	Source       Source
	Sink         Sink
	ClockRate    uint32
	BufferSize   int // access-unit channel buffer; 0 -> default
	OnTransition func(StageTransition)
}

// Pipeline runs a single channel's source->sink chain on its own pair
// of goroutines, the same two-goroutine-plus-channel shape as the
// teacher's Pipeline (captureLoop/processLoop over rawPacketChan in
// internal/pipeline/pipeline.go), generalized from packet stages to
// media stages.
type Pipeline struct {
	cfg PipelineConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	auChan chan [][]byte

	mu     sync.Mutex
	states map[StageName]StageState
	err    error
}

// NewPipeline builds a pipeline for cfg. Call Start to run it.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		auChan: make(chan [][]byte, cfg.BufferSize),
		states: map[StageName]StageState{
			StageSource:    StagePending,
			StageTranscode: StagePending,
			StagePayload:   StagePending,
			StageSink:      StagePending,
		},
	}
	return p
}

// Start launches the source and sink goroutines.
func (p *Pipeline) Start() {
	log.GetLogger().WithField("session_id", p.cfg.SessionID).Info("media: pipeline starting")

	// The transcoder stage is the external black box: we report it as
	// running immediately since there is no in-process work to
	// schedule for it (spec §1's decoder/encoder boundary).
	p.setState(StageTranscode, StageRunning, nil)

	p.wg.Add(1)
	go p.sourceLoop()

	p.wg.Add(1)
	go p.sinkLoop()
}

// Stop cancels the pipeline and waits for both goroutines to exit.
func (p *Pipeline) Stop() {
	p.cancel()
	p.wg.Wait()
	if err := p.cfg.Source.Close(); err != nil {
		log.GetLogger().WithError(err).WithField("session_id", p.cfg.SessionID).Warn("media: source close failed")
	}
	log.GetLogger().WithField("session_id", p.cfg.SessionID).Info("media: pipeline stopped")
}

// Err returns the first error that drove any stage to StageFailed, if
// any. The session watchdog learns of the same failures through
// PipelineConfig.OnTransition.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipeline) sourceLoop() {
	defer p.wg.Done()
	defer close(p.auChan)

	p.setState(StageSource, StageRunning, nil)
	err := p.cfg.Source.Run(p.ctx, p.auChan)
	if err != nil && p.ctx.Err() == nil {
		p.setState(StageSource, StageFailed, err)
		return
	}
	p.setState(StageSource, StageStopped, nil)
}

func (p *Pipeline) sinkLoop() {
	defer p.wg.Done()

	p.setState(StagePayload, StageRunning, nil)
	p.setState(StageSink, StageRunning, nil)

	var timestamp uint32
	const samplesPerFrame = 3000 // 90kHz clock, ~33ms cadence fallback

	for {
		select {
		case <-p.ctx.Done():
			p.setState(StageSink, StageStopped, nil)
			return
		case au, ok := <-p.auChan:
			if !ok {
				p.setState(StageSink, StageStopped, nil)
				return
			}
			if err := p.cfg.Sink.WriteAccessUnit(au, timestamp); err != nil {
				p.setState(StageSink, StageFailed, err)
				return
			}
			clock := p.cfg.ClockRate
			if clock == 0 {
				clock = 90000
			}
			timestamp += uint32(samplesPerFrame * clock / 90000)
		}
	}
}

func (p *Pipeline) setState(stage StageName, state StageState, err error) {
	p.mu.Lock()
	p.states[stage] = state
	if err != nil && p.err == nil {
		p.err = err
	}
	p.mu.Unlock()

	if p.cfg.OnTransition != nil {
		p.cfg.OnTransition(StageTransition{Stage: stage, State: state, Err: err, At: time.Now()})
	}
}

// States returns a snapshot of every stage's current state.
func (p *Pipeline) States() map[StageName]StageState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[StageName]StageState, len(p.states))
	for k, v := range p.states {
		out[k] = v
	}
	return out
}

// ErrPipelineStopped is the error value for a source or sink asked to
// act after Stop; the sources and sink in this package do not return
// it.
var ErrPipelineStopped = fmt.Errorf("media: pipeline stopped")
