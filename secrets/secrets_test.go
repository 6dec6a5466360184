package secrets

import (
	"context"
	"testing"

	"github.com/netglass/wifictl/wifierr"
	"github.com/stretchr/testify/require"
)

func countingPrompter(answer string, err error, calls *int) Prompter {
	return func(ssid string) (string, error) {
		*calls++
		return answer, err
	}
}

func newTestAgent(t *testing.T, prompt Prompter) *Agent {
	t.Helper()

	agent, err := New(&Config{Prompter: prompt})
	require.NoError(t, err)

	return agent
}

func TestProvidedSecretSkipsPrompt(t *testing.T) {
	calls := 0
	agent := newTestAgent(t, countingPrompter("from-prompt", nil, &calls))

	lease, err := agent.Acquire(context.Background(), &Request{
		ProfileUUID: "uuid-1",
		SSID:        "Cafe",
		Provided:    "hunter2",
	})
	require.NoError(t, err)
	defer lease.Release()

	require.Equal(t, "hunter2", lease.Secret())
	require.Zero(t, calls)
}

func TestCacheAnswersSecondAttempt(t *testing.T) {
	calls := 0
	agent := newTestAgent(t, countingPrompter("prompted", nil, &calls))

	first, err := agent.Acquire(context.Background(), &Request{ProfileUUID: "uuid-1", SSID: "Cafe"})
	require.NoError(t, err)
	first.Release()

	second, err := agent.Acquire(context.Background(), &Request{ProfileUUID: "uuid-1", SSID: "Cafe"})
	require.NoError(t, err)
	defer second.Release()

	require.Equal(t, "prompted", second.Secret())
	require.Equal(t, 1, calls)
}

func TestForgetDropsCachedSecret(t *testing.T) {
	calls := 0
	agent := newTestAgent(t, countingPrompter("prompted", nil, &calls))

	lease, err := agent.Acquire(context.Background(), &Request{ProfileUUID: "uuid-1", SSID: "Cafe"})
	require.NoError(t, err)
	lease.Release()

	agent.Forget("Cafe")

	lease, err = agent.Acquire(context.Background(), &Request{ProfileUUID: "uuid-1", SSID: "Cafe"})
	require.NoError(t, err)
	lease.Release()

	require.Equal(t, 2, calls)
}

func TestRefusalFailsWithoutRetry(t *testing.T) {
	calls := 0
	agent := newTestAgent(t, countingPrompter("", ErrDeclined, &calls))

	_, err := agent.Acquire(context.Background(), &Request{ProfileUUID: "uuid-1", SSID: "Cafe"})
	require.True(t, wifierr.Is(err, wifierr.SecretUnavailable))
	require.Equal(t, 1, calls)
}

func TestEmptyAnswerIsUnavailable(t *testing.T) {
	calls := 0
	agent := newTestAgent(t, countingPrompter("", nil, &calls))

	_, err := agent.Acquire(context.Background(), &Request{ProfileUUID: "uuid-1", SSID: "Cafe"})
	require.True(t, wifierr.Is(err, wifierr.SecretUnavailable))
}

func TestNoSourceIsUnavailable(t *testing.T) {
	agent := newTestAgent(t, nil)

	_, err := agent.Acquire(context.Background(), &Request{ProfileUUID: "uuid-1", SSID: "Cafe"})
	require.True(t, wifierr.Is(err, wifierr.SecretUnavailable))
}

func TestLeaseScopesActiveSecret(t *testing.T) {
	agent := newTestAgent(t, nil)

	lease, err := agent.Acquire(context.Background(), &Request{
		ProfileUUID: "uuid-1",
		SSID:        "Cafe",
		Provided:    "hunter2",
	})
	require.NoError(t, err)

	secret, ok := agent.ActiveSecret("uuid-1")
	require.True(t, ok)
	require.Equal(t, "hunter2", secret)

	_, ok = agent.ActiveSecret("uuid-2")
	require.False(t, ok)

	lease.Release()

	// a released lease no longer answers, and its bytes are wiped
	_, ok = agent.ActiveSecret("uuid-1")
	require.False(t, ok)
	require.Empty(t, lease.Secret())
}

func TestReleaseIsIdempotent(t *testing.T) {
	agent := newTestAgent(t, nil)

	lease, err := agent.Acquire(context.Background(), &Request{
		ProfileUUID: "uuid-1",
		SSID:        "Cafe",
		Provided:    "hunter2",
	})
	require.NoError(t, err)

	lease.Release()
	lease.Release()

	_, ok := agent.ActiveSecret("uuid-1")
	require.False(t, ok)
}

func TestRefusingPrompterDeclines(t *testing.T) {
	prompt := RefusingPrompter()

	_, err := prompt("Cafe")
	require.Equal(t, ErrDeclined, err)
}
