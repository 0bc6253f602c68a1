package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dugout-developers/catchmate-server/internal/chat"
	"github.com/dugout-developers/catchmate-server/internal/database/testutil"
	"github.com/dugout-developers/catchmate-server/internal/events"
	"github.com/dugout-developers/catchmate-server/internal/models"
	apperrors "github.com/dugout-developers/catchmate-server/pkg/errors"
)

type enrollmentFixture struct {
	db        *gorm.DB
	rooms     *chat.RoomDirectory
	service   *EnrollmentService
	published []events.EnrollmentEvent

	owner     models.User
	applicant models.User
	board     models.Board
}

func newEnrollmentFixture(t *testing.T) *enrollmentFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	rooms, err := chat.NewRoomDirectory(db)
	require.NoError(t, err)

	f := &enrollmentFixture{db: db, rooms: rooms}

	bus := events.NewBus()
	bus.Subscribe(events.KindEnrollmentAccepted, func(ctx context.Context, event events.EnrollmentEvent) error {
		f.published = append(f.published, event)
		return nil
	})
	bus.Subscribe(events.KindEnrollmentRejected, func(ctx context.Context, event events.EnrollmentEvent) error {
		f.published = append(f.published, event)
		return nil
	})

	f.service, err = NewEnrollmentService(db, rooms, bus)
	require.NoError(t, err)

	f.owner = models.User{Nickname: "owner", Email: "owner@example.com", PasswordHash: "x", DeviceToken: "owner-device"}
	f.applicant = models.User{Nickname: "applicant", Email: "applicant@example.com", PasswordHash: "x", DeviceToken: "applicant-device"}
	require.NoError(t, db.Create(&f.owner).Error)
	require.NoError(t, db.Create(&f.applicant).Error)

	f.board = models.Board{
		OwnerID:    f.owner.ID,
		Title:      "Saturday game",
		MeetAt:     time.Now().Add(48 * time.Hour),
		MaxMembers: 4,
	}
	f.board.State = models.StateActive
	require.NoError(t, db.Create(&f.board).Error)

	return f
}

func (f *enrollmentFixture) apply(t *testing.T) *models.Enrollment {
	t.Helper()
	enrollment, err := f.service.Apply(context.Background(), f.board.ID, f.applicant.ID, "count me in")
	require.NoError(t, err)
	return enrollment
}

func TestApplyAndDuplicate(t *testing.T) {
	f := newEnrollmentFixture(t)

	enrollment := f.apply(t)
	assert.Equal(t, models.EnrollmentPending, enrollment.Status)

	_, err := f.service.Apply(context.Background(), f.board.ID, f.applicant.ID, "again")
	assert.ErrorIs(t, err, ErrAlreadyApplied)
}

func TestApplyToOwnBoard(t *testing.T) {
	f := newEnrollmentFixture(t)

	_, err := f.service.Apply(context.Background(), f.board.ID, f.owner.ID, "")
	require.Error(t, err)
}

func TestAcceptCreatesRoomAndPublishes(t *testing.T) {
	f := newEnrollmentFixture(t)
	ctx := context.Background()
	enrollment := f.apply(t)

	decided, err := f.service.Accept(ctx, enrollment.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentAccepted, decided.Status)
	require.NotNil(t, decided.DecidedAt)

	room, err := f.rooms.GetRoomByBoard(ctx, f.board.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, room.ParticipantCount)

	for _, userID := range []string{f.owner.ID, f.applicant.ID} {
		member, err := f.rooms.IsMember(ctx, room.ID, userID)
		require.NoError(t, err)
		assert.True(t, member)
	}

	require.Len(t, f.published, 1)
	event := f.published[0]
	assert.Equal(t, events.KindEnrollmentAccepted, event.Kind)
	assert.Equal(t, f.applicant.ID, event.RecipientID)
	assert.Equal(t, "applicant-device", event.DeviceToken)
	assert.Equal(t, room.ID, event.ChatRoomID)
}

func TestRejectPublishesWithoutRoom(t *testing.T) {
	f := newEnrollmentFixture(t)
	ctx := context.Background()
	enrollment := f.apply(t)

	decided, err := f.service.Reject(ctx, enrollment.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentRejected, decided.Status)

	_, err = f.rooms.GetRoomByBoard(ctx, f.board.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.Len(t, f.published, 1)
	event := f.published[0]
	assert.Equal(t, events.KindEnrollmentRejected, event.Kind)
	assert.Empty(t, event.ChatRoomID)
}

func TestDecideRequiresOwner(t *testing.T) {
	f := newEnrollmentFixture(t)
	enrollment := f.apply(t)

	_, err := f.service.Accept(context.Background(), enrollment.ID, f.applicant.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	assert.Empty(t, f.published)
}

func TestDecideTwiceConflicts(t *testing.T) {
	f := newEnrollmentFixture(t)
	ctx := context.Background()
	enrollment := f.apply(t)

	_, err := f.service.Accept(ctx, enrollment.ID, f.owner.ID)
	require.NoError(t, err)

	_, err = f.service.Reject(ctx, enrollment.ID, f.owner.ID)
	assert.ErrorIs(t, err, ErrAlreadyDecided)
	assert.Len(t, f.published, 1)
}

func TestFailedDecisionPublishesNothing(t *testing.T) {
	f := newEnrollmentFixture(t)

	_, err := f.service.Accept(context.Background(), "missing-enrollment", f.owner.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Empty(t, f.published)
}

func TestAcceptHonoursCapacity(t *testing.T) {
	f := newEnrollmentFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.Model(&models.Board{}).Where("id = ?", f.board.ID).
		UpdateColumn("max_members", 2).Error)

	first := f.apply(t)
	_, err := f.service.Accept(ctx, first.ID, f.owner.ID)
	require.NoError(t, err)

	third := models.User{Nickname: "third", Email: "third@example.com", PasswordHash: "x"}
	require.NoError(t, f.db.Create(&third).Error)
	enrollment, err := f.service.Apply(ctx, f.board.ID, third.ID, "")
	require.NoError(t, err)

	_, err = f.service.Accept(ctx, enrollment.ID, f.owner.ID)
	assert.ErrorIs(t, err, ErrBoardFull)

	// Room membership is untouched by the failed acceptance.
	room, err := f.rooms.GetRoomByBoard(ctx, f.board.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, room.ParticipantCount)
}
