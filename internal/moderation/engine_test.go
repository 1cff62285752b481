package moderation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/joinhall/lobbysync/internal/dependencies/mocks"
)

type EngineSuite struct {
	suite.Suite
	clock  *mocks.MockClock
	engine *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.engine = New(s.clock, DefaultConfig())
}

func (s *EngineSuite) TestAcceptsPlainText() {
	res := s.engine.Moderate("p1", "hello everyone", Options{})
	s.True(res.OK)
	s.Equal(ReasonOK, res.Reason)
	s.Equal("hello everyone", res.Text)
	s.False(res.Replaced)
}

func (s *EngineSuite) TestNormalizesWhitespace() {
	res := s.engine.Moderate("p1", "  hello \t  world \n", Options{})
	s.True(res.OK)
	s.Equal("hello world", res.Text)
}

func (s *EngineSuite) TestRejectsEmpty() {
	res := s.engine.Moderate("p1", "   \t\n ", Options{})
	s.False(res.OK)
	s.Equal(ReasonEmpty, res.Reason)
}

func (s *EngineSuite) TestRejectsTooLong() {
	res := s.engine.Moderate("p1", strings.Repeat("a", 161), Options{})
	s.False(res.OK)
	s.Equal(ReasonTooLong, res.Reason)
}

func (s *EngineSuite) TestRejectsDuplicateWithinWindow() {
	res := s.engine.Moderate("p1", "same thing", Options{})
	s.Require().True(res.OK)

	s.clock.Advance(5 * time.Second)
	res = s.engine.Moderate("p1", "Same Thing", Options{})
	s.False(res.OK)
	s.Equal(ReasonDuplicate, res.Reason)
}

func (s *EngineSuite) TestDuplicateAllowedAfterWindow() {
	res := s.engine.Moderate("p1", "same thing", Options{})
	s.Require().True(res.OK)

	s.clock.Advance(16 * time.Second)
	res = s.engine.Moderate("p1", "same thing", Options{})
	s.True(res.OK)
}

func (s *EngineSuite) TestDuplicateIsPerPlayer() {
	res := s.engine.Moderate("p1", "same thing", Options{})
	s.Require().True(res.OK)

	res = s.engine.Moderate("p2", "same thing", Options{})
	s.True(res.OK)
}

func (s *EngineSuite) TestRejectsShouting() {
	res := s.engine.Moderate("p1", "HELLO WORLD TODAY", Options{})
	s.False(res.OK)
	s.Equal(ReasonCaps, res.Reason)
}

func (s *EngineSuite) TestAcceptsCorrectedCase() {
	res := s.engine.Moderate("p1", "HELLO WORLD TODAY", Options{})
	s.Require().Equal(ReasonCaps, res.Reason)

	res = s.engine.Moderate("p1", "Hello world today", Options{})
	s.True(res.OK)
	s.False(res.Replaced)
}

func (s *EngineSuite) TestShortShoutingAllowed() {
	// Under 12 letters, caps ratio is not checked
	res := s.engine.Moderate("p1", "WOW NICE", Options{})
	s.True(res.OK)
}

func (s *EngineSuite) TestSlowModeCooldown() {
	opts := Options{SlowModeMs: 5000}

	res := s.engine.Moderate("p1", "hi", opts)
	s.Require().True(res.OK)

	s.clock.Advance(2 * time.Second)
	res = s.engine.Moderate("p1", "there", opts)
	s.False(res.OK)
	s.Equal(ReasonCooldown, res.Reason)
	s.InDelta(3000, res.CooldownMsLeft, 1)

	s.clock.Advance(3001 * time.Millisecond)
	res = s.engine.Moderate("p1", "there", opts)
	s.True(res.OK)
}

func (s *EngineSuite) TestRejectedMessageDoesNotStartCooldown() {
	opts := Options{SlowModeMs: 5000}

	res := s.engine.Moderate("p1", "THIS IS ALL UPPERCASE SHOUTING", opts)
	s.Require().Equal(ReasonCaps, res.Reason)

	// The rejection must not have recorded a send
	res = s.engine.Moderate("p1", "quiet now", opts)
	s.True(res.OK)
}

func (s *EngineSuite) TestStripsLinks() {
	res := s.engine.Moderate("p1", "check https://example.com/x out", Options{})
	s.True(res.OK)
	s.Equal("check out", res.Text)
	s.True(res.Replaced)
	s.Equal("check https://example.com/x out", res.Original)
}

func (s *EngineSuite) TestLinkOnlyMessageBecomesEmpty() {
	res := s.engine.Moderate("p1", "https://example.com", Options{})
	s.False(res.OK)
	s.Equal(ReasonEmpty, res.Reason)
}

func (s *EngineSuite) TestAllowLinksKeepsURL() {
	res := s.engine.Moderate("p1", "see https://example.com", Options{AllowLinks: true})
	s.True(res.OK)
	s.Equal("see https://example.com", res.Text)
	s.False(res.Replaced)
}

func (s *EngineSuite) TestMasksBlockedWords() {
	res := s.engine.Moderate("p1", "that was bad luck", Options{})
	s.True(res.OK)
	s.Equal("that was b•d luck", res.Text)
	s.True(res.Replaced)
	s.Equal("that was bad luck", res.Original)
}

func (s *EngineSuite) TestMaskPreservesCaseInsensitivity() {
	res := s.engine.Moderate("p1", "Awful weather here today", Options{})
	s.True(res.OK)
	s.Equal("A•••l weather here today", res.Text)
}

func (s *EngineSuite) TestExtendBlockList() {
	s.engine.ExtendBlockList([]string{"verboten"})
	res := s.engine.Moderate("p1", "that is verboten here", Options{})
	s.True(res.OK)
	s.Equal("that is v••••••n here", res.Text)
}

func (s *EngineSuite) TestShortWordsFullyMasked() {
	s.engine.ExtendBlockList([]string{"no"})
	res := s.engine.Moderate("p1", "no way", Options{})
	s.True(res.OK)
	s.Equal("•• way", res.Text)
}
