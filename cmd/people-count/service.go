package main

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/people.count/internal/api"
	"github.com/banshee-data/people.count/internal/config"
	"github.com/banshee-data/people.count/internal/counter"
	"github.com/banshee-data/people.count/internal/db"
	"github.com/banshee-data/people.count/internal/homeassistant"
	"github.com/banshee-data/people.count/internal/lighting"
	"github.com/banshee-data/people.count/internal/rangefinder"
	"github.com/banshee-data/people.count/internal/tally"
	"github.com/banshee-data/people.count/internal/timeutil"
)

// lightsDrainTimeout bounds how long shutdown waits for queued light events.
const lightsDrainTimeout = 10 * time.Second

// service is one running counter: the detector and everything listening to
// it.
type service struct {
	cfg      *config.Config
	clock    timeutil.Clock
	store    *db.DB
	tally    *tally.Tally
	detector *counter.Detector
	presence *api.Presence
	lights   *lighting.Controller
	bridge   *homeassistant.Bridge

	logFailures int
}

// newService subscribes the episode log, the tally, the lighting controller
// and the MQTT bridge to a detector polling src. lights and bridge may be nil.
func newService(cfg *config.Config, src counter.Source, store *db.DB, light lighting.Light, bridge *homeassistant.Bridge, clock timeutil.Clock) *service {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &service{
		cfg:    cfg,
		clock:  clock,
		store:  store,
		tally:  tally.New(clock),
		bridge: bridge,
	}
	s.detector = counter.NewDetector(src,
		counter.WithMaxTriggerDistance(cfg.GetMaxTriggerDistance()),
		counter.WithStartZone(cfg.GetStartZone()),
		counter.WithClock(clock),
	)
	s.presence = api.NewPresence(s.detector, clock)

	if light != nil {
		s.lights = lighting.NewController(light, s.tally,
			lighting.WithSchedule(cfg.GetSchedule()),
			lighting.WithLocation(cfg.GetLocation()),
			lighting.WithMotionLights(cfg.GetMotionLights()),
			lighting.WithRequestTimeout(cfg.GetHueRequestTimeout()),
			lighting.WithControllerClock(clock),
		)
	}

	// change runs before counting, so the tally still holds the count the
	// crossing started from once earlier events have been handled
	s.detector.OnChange(s.recordEpisode)
	if s.lights != nil {
		s.detector.OnCounting(s.lights.HandleCount)
		s.detector.OnTrigger(s.lights.HandleTrigger)
	} else {
		s.detector.OnCounting(func(change counter.CountChange) { s.tally.Apply(int(change)) })
	}
	s.detector.OnTrigger(s.presence.Update)

	s.tally.Subscribe(func(u tally.Update) {
		log.Printf("[count] %d -> %d (%s)", u.Previous, u.Count, u.Reason)
		if err := s.store.RecordAdjustment(u); err != nil {
			log.Printf("[count] %v", err)
		}
	})
	if s.bridge != nil {
		s.tally.Subscribe(s.bridge.PublishCount)
		s.detector.OnTrigger(s.bridge.PublishPresence)
	}
	return s
}

func (s *service) recordEpisode(change counter.CountChange, episode counter.EpisodeState) {
	at := s.clock.Now()
	if s.lights == nil {
		s.writeEpisode(change, episode, false, at)
		return
	}
	// crossings reach the tally on the lighting worker
	s.lights.Queue(func() {
		s.writeEpisode(change, episode, s.lights.MotionLit(), at)
	})
}

func (s *service) writeEpisode(change counter.CountChange, episode counter.EpisodeState, motionLit bool, at time.Time) {
	r := db.NewEpisodeRecord(change, episode, s.tally.Count(), motionLit, at)
	if err := s.store.RecordEpisode(r); err != nil {
		s.logFailures++
		log.Printf("[episodes] failed to log episode (%d failures): %v", s.logFailures, err)
	}
}

// apiServer returns the HTTP API for this service.
func (s *service) apiServer() *api.Server {
	var opts []api.ServerOption
	if s.bridge != nil {
		opts = append(opts, api.WithMQTTStats(s.bridge.Stats))
	}
	return api.NewServer(s.tally, s.store, s.presence, s.cfg, opts...)
}

// run polls until ctx is done or the source fails. A finished replay is not
// an error: the API keeps serving the recorded episodes.
func (s *service) run(ctx context.Context) error {
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		wg.Wait()
	}()

	if s.lights != nil {
		// the worker outlives ctx so queued events can drain on shutdown
		workCtx, stopWork := context.WithCancel(context.Background())
		defer stopWork()
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.lights.Run(workCtx)
		}()
		go func() {
			defer wg.Done()
			if err := s.lights.RunSchedule(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[lighting] schedule stopped: %v", err)
			}
		}()
	}
	if s.bridge != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[mqtt] publisher stopped: %v", err)
			}
		}()
	}

	err := s.detector.Run(ctx)
	if s.lights != nil {
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), lightsDrainTimeout)
		if err := s.lights.Sync(drainCtx); err != nil {
			log.Printf("[lighting] queued events not delivered before shutdown: %v", err)
		}
		cancelDrain()
	}
	if errors.Is(err, rangefinder.ErrReplayExhausted) {
		log.Printf("[counter] replay finished, count is %d", s.tally.Count())
		return nil
	}
	return err
}
