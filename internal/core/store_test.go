package core_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paircomms/msg-gateway/internal/core"
	database "github.com/paircomms/msg-gateway/internal/db"
)

func newStore(t *testing.T) *core.Store {
	pool := database.StartTestPostgres(t)
	return core.NewStore(pool, 2*time.Second)
}

func submitAt(t *testing.T, s *core.Store, from, to string, now time.Time, file *core.FileRef) (*core.Message, error) {
	t.Helper()
	return s.Submit(context.Background(), core.SubmitRequest{
		From: from, To: to, Body: "Hello, World!", Now: now, File: file,
	})
}

func pngRef(filename string) *core.FileRef {
	return &core.FileRef{
		StoragePath: "./tmp/uploads/" + filename,
		Filename:    filename,
		ContentType: "image/png",
	}
}

func TestSubmit_NoAttachment(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()

	msg, err := submitAt(t, s, "+16612022222", "+16613339988", now, nil)
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, core.StatusActive, msg.Status)
	require.Nil(t, msg.AttachmentID)
}

func TestSubmit_CooldownBoundaries(t *testing.T) {
	s := newStore(t)
	base := time.Now().UTC()
	from, to := "+16612022222", "+16613339988"

	_, err := submitAt(t, s, from, to, base, nil)
	require.NoError(t, err)

	_, err = submitAt(t, s, from, to, base.Add(1900*time.Millisecond), nil)
	require.ErrorIs(t, err, core.ErrCooldownActive)

	_, err = submitAt(t, s, from, to, base.Add(2100*time.Millisecond), nil)
	require.NoError(t, err)
}

func TestSubmit_PairDirectionality(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()

	_, err := submitAt(t, s, "+16612022222", "+16613339988", now, nil)
	require.NoError(t, err)

	// The reverse direction is a different pair and is not gated.
	_, err = submitAt(t, s, "+16613339988", "+16612022222", now.Add(10*time.Millisecond), nil)
	require.NoError(t, err)
}

func TestSubmit_WithAttachment(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()

	msg, err := submitAt(t, s, "+16612022222", "+16613339988", now, pngRef("cat.png"))
	require.NoError(t, err)
	require.NotNil(t, msg.AttachmentID)

	att, err := s.GetAttachment(context.Background(), *msg.AttachmentID)
	require.NoError(t, err)
	require.Equal(t, msg.ID, att.MessageID)
	require.Equal(t, "cat.png", att.Filename)
	require.Equal(t, "image/png", att.ContentType)
}

func TestSubmit_DuplicateFilenameRejectedAndRolledBack(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()

	_, err := submitAt(t, s, "+16612021111", "+16613331122", now, pngRef("once.png"))
	require.NoError(t, err)

	// Different pair, same filename: whole submission must vanish.
	_, err = submitAt(t, s, "+16612027777", "+16613337777", now, pngRef("once.png"))
	require.ErrorIs(t, err, core.ErrDuplicateAttachment)

	items, _, err := s.ListMessages(context.Background(), core.ListFilter{From: "+16612027777", Limit: 10})
	require.NoError(t, err)
	require.Empty(t, items, "rolled-back message must not be observable")
}

func TestSubmit_UnsupportedTypeRollsBackMessage(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()

	gif := &core.FileRef{StoragePath: "./x.gif", Filename: "x.gif", ContentType: "image/gif"}
	_, err := submitAt(t, s, "+16612024444", "+16613334444", now, gif)
	require.ErrorIs(t, err, core.ErrUnsupportedMediaType)

	items, _, err := s.ListMessages(context.Background(), core.ListFilter{From: "+16612024444", Limit: 10})
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestSubmit_ConcurrentDuplicateFilename_ExactlyOneCommits(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()

	// Distinct pairs so only the filename contends.
	pairs := [][2]string{
		{"+16612020001", "+16613330001"},
		{"+16612020002", "+16613330002"},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(pairs))
	for i, p := range pairs {
		wg.Add(1)
		go func(i int, from, to string) {
			defer wg.Done()
			_, errs[i] = submitAt(t, s, from, to, now, pngRef("contested.png"))
		}(i, p[0], p[1])
	}
	wg.Wait()

	var committed, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			committed++
		case core.IsCallerError(err):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, committed)
	require.Equal(t, 1, rejected)

	// The loser must have left no orphaned message behind.
	var total int
	for _, p := range pairs {
		items, _, err := s.ListMessages(context.Background(), core.ListFilter{From: p[0], Limit: 10})
		require.NoError(t, err)
		total += len(items)
	}
	require.Equal(t, 1, total)
}

func TestSubmit_ConcurrentSamePair_OnlyOneWins(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()
	from, to := "+16612025555", "+16613335555"

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = submitAt(t, s, from, to, now.Add(time.Duration(i)*time.Millisecond), nil)
		}(i)
	}
	wg.Wait()

	var accepted int
	for _, err := range errs {
		if err == nil {
			accepted++
		} else {
			require.ErrorIs(t, err, core.ErrCooldownActive)
		}
	}
	require.Equal(t, 1, accepted, "the pair lock must let exactly one through")
}

func TestLastReceivedAt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	prev, err := s.LastReceivedAt(ctx, "+16612026666", "+16613336666")
	require.NoError(t, err)
	require.Nil(t, prev)

	now := time.Now().UTC().Truncate(time.Microsecond) // pg timestamptz precision
	_, err = submitAt(t, s, "+16612026666", "+16613336666", now, nil)
	require.NoError(t, err)

	prev, err = s.LastReceivedAt(ctx, "+16612026666", "+16613336666")
	require.NoError(t, err)
	require.NotNil(t, prev)
	require.True(t, prev.Equal(now))
}

func TestMarkDeleted(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	msg, err := submitAt(t, s, "+16612028888", "+16613338888", now, nil)
	require.NoError(t, err)

	require.NoError(t, s.MarkDeleted(ctx, msg.ID))

	items, _, err := s.ListMessages(ctx, core.ListFilter{From: "+16612028888", Status: core.StatusDeleted, Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)

	err = s.MarkDeleted(ctx, "00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
}

func TestListMessages_FiltersAndOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_, err := submitAt(t, s, "+16612029999", fmt.Sprintf("+1661333%04d", i), base.Add(time.Duration(i)*time.Second), nil)
		require.NoError(t, err)
	}

	items, total, err := s.ListMessages(ctx, core.ListFilter{From: "+16612029999", Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, 3, total)
	// newest first
	require.True(t, items[0].ReceivedAt.After(items[1].ReceivedAt))
	require.True(t, items[1].ReceivedAt.After(items[2].ReceivedAt))

	// total counts every matching row, not just the page.
	items, total, err = s.ListMessages(ctx, core.ListFilter{From: "+16612029999", Limit: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, 3, total)

	items, total, err = s.ListMessages(ctx, core.ListFilter{From: "+16612029999", Limit: 10, Offset: 2})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 3, total)

	items, total, err = s.ListMessages(ctx, core.ListFilter{To: "+16613330001", Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 1, total)
}
