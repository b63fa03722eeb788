package calls

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransitionQuery_PartyClauses(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	q, args := transitionQuery(Transition{ID: "s1", From: []Status{StatusRinging}, To: StatusAccepted, Party: PartyCallee, ActorID: "bob", At: at})
	require.Contains(t, q, "callee_id = $6")
	require.Len(t, args, 6)
	require.NotNil(t, args[1], "accepted stamps started_at")
	require.Nil(t, args[2].(*time.Time))
	require.Equal(t, []string{"ringing"}, args[4])

	q, args = transitionQuery(Transition{ID: "s1", From: []Status{StatusRinging, StatusAccepted}, To: StatusEnded, Party: PartyEither, ActorID: "alice", At: at})
	require.Contains(t, q, "(caller_id = $6 OR callee_id = $6)")
	require.Nil(t, args[1].(*time.Time))
	require.NotNil(t, args[2].(*time.Time))

	q, args = transitionQuery(Transition{ID: "s1", From: []Status{StatusRinging}, To: StatusMissed, Party: PartySystem, At: at, CreatedBefore: at})
	require.Contains(t, q, "created_at < $6")
	require.NotContains(t, q, "caller_id =")
	require.Len(t, args, 6)

	q, _ = transitionQuery(Transition{ID: "s1", To: StatusEnded})
	require.True(t, strings.Contains(q, "FALSE"))
}
