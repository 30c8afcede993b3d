/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package productions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listerFunc func(ctx context.Context, offset, limit int) (*ProductionList, error)

func (f listerFunc) List(ctx context.Context, offset, limit int) (*ProductionList, error) {
	return f(ctx, offset, limit)
}

func TestRefresherAppliesAndNotifies(t *testing.T) {
	r := NewRefresher(listerFunc(func(ctx context.Context, offset, limit int) (*ProductionList, error) {
		return &ProductionList{Productions: []Production{{ProductionID: "1"}}, TotalItems: 1, Limit: limit}, nil
	}), time.Hour, 10, zerolog.Nop())

	var got []ProductionList
	unsubscribe := r.Subscribe(func(p ProductionList) { got = append(got, p) })

	applied, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, applied)
	require.Len(t, got, 1)
	assert.Equal(t, 10, got[0].Limit)
	assert.Equal(t, "1", r.Latest().Productions[0].ProductionID)

	unsubscribe()
	_, err = r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRefresherDiscardsSupersededResult(t *testing.T) {
	release := make(chan struct{})
	first := true
	var mu sync.Mutex

	r := NewRefresher(listerFunc(func(ctx context.Context, offset, limit int) (*ProductionList, error) {
		mu.Lock()
		slow := first
		first = false
		mu.Unlock()
		if slow {
			<-release
			return &ProductionList{Productions: []Production{{ProductionID: "stale"}}}, nil
		}
		return &ProductionList{Productions: []Production{{ProductionID: "fresh"}}}, nil
	}), time.Hour, 10, zerolog.Nop())

	staleApplied := make(chan bool, 1)
	go func() {
		applied, _ := r.Refresh(context.Background())
		staleApplied <- applied
	}()

	// wait until the slow refresh has taken its generation
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !first
	}, time.Second, time.Millisecond)

	applied, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, applied)

	close(release)
	assert.False(t, <-staleApplied)
	assert.Equal(t, "fresh", r.Latest().Productions[0].ProductionID)
}

func TestRefresherStartStop(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	r := NewRefresher(listerFunc(func(ctx context.Context, offset, limit int) (*ProductionList, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, errors.New("backend down")
	}), 5*time.Millisecond, 10, zerolog.Nop())

	r.Start(context.Background())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, time.Millisecond)
	r.Stop()

	mu.Lock()
	after := calls
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, after, calls)
	mu.Unlock()
	assert.Nil(t, r.Latest())
}

func TestRefresherReportsFailures(t *testing.T) {
	r := NewRefresher(listerFunc(func(ctx context.Context, offset, limit int) (*ProductionList, error) {
		return nil, errors.New("backend down")
	}), time.Hour, 10, zerolog.Nop())

	errs := make(chan error, 1)
	r.OnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	r.Start(context.Background())
	defer r.Stop()

	select {
	case err := <-errs:
		assert.EqualError(t, err, "backend down")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the refresh error")
	}
}
