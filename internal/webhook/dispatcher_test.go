package webhook

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForDeliveries(t *testing.T, d *Dispatcher, webhookID string, n int) []DeliveryResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		results := d.Deliveries(webhookID)
		if len(results) >= n {
			return results
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d deliveries to %s", n, webhookID)
	return nil
}

func TestDispatchDeliversToInterestedSubscriberOnly(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	d := New(cfg, nil)
	interested := d.Register(Subscriber{URL: server.URL, Events: []Event{EventAnomalyDetected}, Active: true})
	d.Register(Subscriber{URL: server.URL, Events: []Event{EventTaskConfirmed}, Active: true})

	d.Dispatch(string(EventAnomalyDetected), map[string]any{"rule": "unusualAmount"})

	results := waitForDeliveries(t, d, interested.ID, 1)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestDispatchSignsBodyWhenSecretSet(t *testing.T) {
	var gotSignature, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		gotSignature = r.Header.Get("X-Kontext-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	d := New(cfg, nil)
	sub := d.Register(Subscriber{URL: server.URL, Events: []Event{EventTaskConfirmed}, Active: true, Secret: "s3cr3t"})

	d.Dispatch(string(EventTaskConfirmed), map[string]any{"taskId": "1"})
	waitForDeliveries(t, d, sub.ID, 1)

	require.NotEmpty(t, gotSignature)
	assert.Equal(t, Sign("s3cr3t", []byte(gotBody)), gotSignature)
	assert.True(t, VerifySignature("s3cr3t", []byte(gotBody), gotSignature))
	assert.False(t, VerifySignature("wrong-secret", []byte(gotBody), gotSignature))
}

func TestDispatchRetriesOnFailureThenRecordsFailure(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.BaseDelay = time.Millisecond
	d := New(cfg, nil)
	sub := d.Register(Subscriber{URL: server.URL, Events: []Event{EventTaskFailed}, Active: true})

	d.Dispatch(string(EventTaskFailed), map[string]any{"taskId": "2"})
	results := waitForDeliveries(t, d, sub.ID, 1)

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, 3, results[0].Attempts) // initial attempt + 2 retries
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestInactiveSubscriberNeverDelivered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := New(DefaultConfig(), nil)
	sub := d.Register(Subscriber{URL: server.URL, Events: []Event{EventAnomalyDetected}, Active: false})

	d.Dispatch(string(EventAnomalyDetected), map[string]any{})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, d.Deliveries(sub.ID))
}

func TestRegisterAssignsIDWhenMissing(t *testing.T) {
	d := New(DefaultConfig(), nil)
	sub := d.Register(Subscriber{URL: "https://example.com/hook", Events: []Event{EventAnomalyDetected}, Active: true})
	assert.NotEmpty(t, sub.ID)

	_, err := d.Get("nonexistent")
	require.Error(t, err)
}
