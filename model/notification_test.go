package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModerationSeverityIsTypeTagged(t *testing.T) {
	require.Equal(t, SeverityInfo, Notification{Type: NotificationLike}.Severity())
	require.Equal(t, SeverityInfo, Notification{
		Type:              NotificationModeration,
		ModerationSubtype: ModerationNoAction,
	}.Severity())
	require.Equal(t, SeverityWarning, Notification{
		Type:              NotificationModeration,
		ModerationSubtype: ModerationContentRemoved,
	}.Severity())
	require.Equal(t, SeverityCritical, Notification{
		Type:              NotificationModeration,
		ModerationSubtype: ModerationAccountSuspended,
	}.Severity())
}
