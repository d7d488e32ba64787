// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/co2_monitor/internal/co2"
	"github.com/relabs-tech/co2_monitor/internal/mtp40f"
)

// handleCommand runs one calibration command against the sensor. It never
// fails; errors are reported in the result.
func handleCommand(dev *mtp40f.Dev, cmd co2.Command) co2.CommandResult {
	res := co2.CommandResult{ID: cmd.ID, Action: cmd.Action}

	var err error
	switch cmd.Action {
	case co2.ActionSetPressure:
		err = dev.SetAirPressureReference(cmd.Value)
	case co2.ActionSetSPC:
		err = dev.SetSinglePointCorrection(cmd.Value)
	case co2.ActionSPCStatus:
		res.Ready, err = dev.SinglePointCorrectionReady()
	default:
		err = errors.Errorf("unknown action %q", cmd.Action)
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.OK = true
	return res
}

// commandRelay sends commands to the producer over MQTT and matches the
// results coming back on the result topic by ID.
type commandRelay struct {
	publish func(payload []byte) error
	prefix  string

	mu      sync.Mutex
	seq     uint64
	pending map[string]chan co2.CommandResult
}

// newCommandRelay returns a relay that publishes with publish. IDs are
// prefixed with prefix, normally the MQTT client ID, so several relays can
// share the result topic.
func newCommandRelay(prefix string, publish func(payload []byte) error) *commandRelay {
	return &commandRelay{
		publish: publish,
		prefix:  prefix,
		pending: map[string]chan co2.CommandResult{},
	}
}

// deliver handles one payload from the result topic. Results nobody waits
// for are ignored.
func (r *commandRelay) deliver(payload []byte) {
	var res co2.CommandResult
	if err := json.Unmarshal(payload, &res); err != nil {
		log.Printf("calibration: result unmarshal error: %v", err)
		return
	}
	r.mu.Lock()
	ch, ok := r.pending[res.ID]
	delete(r.pending, res.ID)
	r.mu.Unlock()
	if ok {
		ch <- res
	}
}

// Do sends one command and waits for its result or ctx.
func (r *commandRelay) Do(ctx context.Context, action string, value int) (co2.CommandResult, error) {
	r.mu.Lock()
	r.seq++
	cmd := co2.Command{
		ID:     fmt.Sprintf("%s-%d", r.prefix, r.seq),
		Action: action,
		Value:  value,
	}
	ch := make(chan co2.CommandResult, 1)
	r.pending[cmd.ID] = ch
	r.mu.Unlock()

	forget := func() {
		r.mu.Lock()
		delete(r.pending, cmd.ID)
		r.mu.Unlock()
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		forget()
		return co2.CommandResult{}, err
	}
	if err := r.publish(payload); err != nil {
		forget()
		return co2.CommandResult{}, errors.Wrapf(err, "publish %s", action)
	}

	select {
	case res := <-ch:
		if !res.OK {
			return res, errors.Errorf("%s rejected by producer: %s", action, res.Error)
		}
		return res, nil
	case <-ctx.Done():
		forget()
		return co2.CommandResult{}, errors.Wrapf(ctx.Err(), "waiting for %s result", action)
	}
}

// SPCProgress reports one poll of a running single point correction.
type SPCProgress struct {
	Poll  int
	Polls int
	Ready bool
}

// runSinglePointCorrection starts a single point correction at ppm and polls
// its status every interval until the sensor reports ready or polls run out.
func runSinglePointCorrection(ctx context.Context, relay *commandRelay, ppm int, interval time.Duration, polls int, progress func(SPCProgress)) error {
	if _, err := doWithTimeout(ctx, relay, co2.ActionSetSPC, ppm); err != nil {
		return err
	}
	for i := 1; i <= polls; i++ {
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
		res, err := doWithTimeout(ctx, relay, co2.ActionSPCStatus, 0)
		if err != nil {
			return err
		}
		if progress != nil {
			progress(SPCProgress{Poll: i, Polls: polls, Ready: res.Ready})
		}
		if res.Ready {
			return nil
		}
	}
	return errors.Errorf("single point correction not finished after %d polls", polls)
}
