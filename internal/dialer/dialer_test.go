package dialer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/ligai/internal/call"
	"github.com/wolfman30/ligai/internal/esl"
	"github.com/wolfman30/ligai/pkg/logging"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		invalid bool
	}{
		{"(11) 91234-5678", "5511912345678", false},
		{"11 3456-7890", "551134567890", false},
		{"+55 11 91234-5678", "5511912345678", false},
		{"551134567890", "551134567890", false},
		{"1234-5678", "", true},
		{"", "", true},
		{"55119123456789", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Normalize(tt.in, "55")
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalidNumber)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type fakeOriginator struct {
	reqs   []esl.OriginateRequest
	res    esl.Result
	err    error
	before func()
}

func (f *fakeOriginator) Originate(_ context.Context, req esl.OriginateRequest) (esl.Result, error) {
	if f.before != nil {
		f.before()
	}
	f.reqs = append(f.reqs, req)
	return f.res, f.err
}

func TestDialStoresPendingCall(t *testing.T) {
	sw := &fakeOriginator{res: esl.Result{OK: true, Raw: "+OK Job-UUID: abc"}}
	pending := call.NewMemoryPendingStore(0)
	d := New(sw, pending, Config{BridgeURL: "ws://app:8000/ws"}, nil, logging.New("error"))

	profile := &call.Profile{PromptID: 4, Greeting: "Oi"}
	callID, err := d.Dial(context.Background(), Request{Number: "(11) 91234-5678", Profile: profile, Source: SourceCampaign, CampaignID: 2, ContactID: 9})
	require.NoError(t, err)
	assert.Regexp(t, `^call-\d+-[0-9a-f]{8}$`, callID)

	require.Len(t, sw.reqs, 1)
	assert.Equal(t, esl.OriginateRequest{CallID: callID, Number: "5511912345678", BridgeURL: "ws://app:8000/ws"}, sw.reqs[0])

	p, err := pending.Take(context.Background(), callID)
	require.NoError(t, err)
	assert.Equal(t, "5511912345678", p.Number)
	assert.Equal(t, SourceCampaign, p.Source)
	assert.Equal(t, int64(9), p.ContactID)
	assert.Equal(t, profile, p.Profile)
}

func TestDialStoresPendingBeforeOriginate(t *testing.T) {
	sw := &fakeOriginator{res: esl.Result{OK: true, Raw: "+OK Job-UUID: abc"}}
	pending := call.NewMemoryPendingStore(0)
	seen := -1
	sw.before = func() { seen = pending.Len() }
	d := New(sw, pending, Config{BridgeURL: "ws://app/ws"}, nil, nil)

	_, err := d.Dial(context.Background(), Request{Number: "11912345678"})
	require.NoError(t, err)
	assert.Equal(t, 1, seen, "audio connection could arrive before the association exists")
}

func TestDialFailureLeavesNoPendingCall(t *testing.T) {
	tests := []struct {
		name string
		res  esl.Result
		err  error
	}{
		{"switch rejected", esl.Result{Raw: "-ERR GATEWAY_DOWN"}, nil},
		{"transport error", esl.Result{Raw: "dial tcp: refused"}, errors.New("dial tcp: refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sw := &fakeOriginator{res: tt.res, err: tt.err}
			pending := call.NewMemoryPendingStore(0)
			d := New(sw, pending, Config{BridgeURL: "ws://app/ws"}, nil, nil)

			callID, err := d.Dial(context.Background(), Request{Number: "11912345678"})
			assert.ErrorIs(t, err, ErrOriginateFailed)
			assert.Empty(t, callID)
			assert.Equal(t, 0, pending.Len())
		})
	}
}

func TestDialRejectsInvalidNumberBeforeSwitch(t *testing.T) {
	sw := &fakeOriginator{res: esl.Result{OK: true}}
	d := New(sw, call.NewMemoryPendingStore(0), Config{}, nil, nil)

	_, err := d.Dial(context.Background(), Request{Number: "12345678"})
	assert.ErrorIs(t, err, ErrInvalidNumber)
	assert.Empty(t, sw.reqs)
}
