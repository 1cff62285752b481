package joincode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/joinhall/lobbysync/internal/dependencies/mocks"
	"github.com/joinhall/lobbysync/internal/model"
	"github.com/joinhall/lobbysync/internal/store/memory"
	"github.com/joinhall/lobbysync/internal/testutil"
)

type AllocatorSuite struct {
	suite.Suite
	store     *memory.Store
	clock     *mocks.MockClock
	random    *mocks.MockRandom
	allocator *Allocator
	ctx       context.Context
}

func TestAllocatorSuite(t *testing.T) {
	suite.Run(t, new(AllocatorSuite))
}

func (s *AllocatorSuite) SetupTest() {
	s.store = memory.New()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	s.allocator = New(s.store, s.clock, s.random, testutil.NopLogger())
	s.ctx = context.Background()
}

func (s *AllocatorSuite) TestAllocateReservesCode() {
	s.random.QueueString("AB23")

	code, err := s.allocator.Allocate(s.ctx, "room-1")
	s.Require().NoError(err)
	s.Equal(model.JoinCode("AB23"), code)

	roomID, err := s.allocator.Resolve(s.ctx, code)
	s.Require().NoError(err)
	s.Equal(model.RoomID("room-1"), roomID)
}

func (s *AllocatorSuite) TestAllocateRetriesOnCollision() {
	s.random.QueueString("AB23")
	_, err := s.allocator.Allocate(s.ctx, "room-1")
	s.Require().NoError(err)

	// Same code drawn again, then a fresh one
	s.random.QueueString("AB23", "CD34")
	code, err := s.allocator.Allocate(s.ctx, "room-2")
	s.Require().NoError(err)
	s.Equal(model.JoinCode("CD34"), code)

	// First reservation untouched
	roomID, _ := s.allocator.Resolve(s.ctx, "AB23")
	s.Equal(model.RoomID("room-1"), roomID)
}

func (s *AllocatorSuite) TestAllocateExhaustsRetries() {
	// Reserve the only code the mock will ever produce
	s.random.QueueString("AB23")
	_, err := s.allocator.Allocate(s.ctx, "room-1")
	s.Require().NoError(err)

	for i := 0; i < maxAttempts; i++ {
		s.random.QueueString("AB23")
	}
	_, err = s.allocator.Allocate(s.ctx, "room-2")
	s.ErrorIs(err, model.ErrAllocateCode)
}

func (s *AllocatorSuite) TestAllocateEscalatesWriteErrors() {
	s.store.FailWritesUnder("codes", errors.New("permission denied"))
	for i := 0; i < maxAttempts; i++ {
		s.random.QueueString("AB23")
	}

	_, err := s.allocator.Allocate(s.ctx, "room-1")
	s.ErrorIs(err, model.ErrCodeWrite)
}

func (s *AllocatorSuite) TestResolveUnknownCode() {
	_, err := s.allocator.Resolve(s.ctx, "ZZ99")
	s.ErrorIs(err, model.ErrCodeNotFound)
}

func (s *AllocatorSuite) TestNormalize() {
	code, err := Normalize(" ab23 ")
	s.Require().NoError(err)
	s.Equal(model.JoinCode("AB23"), code)
}

func (s *AllocatorSuite) TestNormalizeRejectsBadShapes() {
	// 0, 1, I and O are excluded from the alphabet as too confusable
	cases := []string{"", "ABC", "ABC12", "AB12", "AB1O", "A0BC", "ab!2"}
	for _, c := range cases {
		_, err := Normalize(c)
		s.ErrorIs(err, model.ErrCodeInvalid, "input %q", c)
	}
}
