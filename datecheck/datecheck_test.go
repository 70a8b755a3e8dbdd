package datecheck_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecmwf/reqbroker/datecheck"
)

func dateAgo(days int) string {
	return time.Now().UTC().AddDate(0, 0, -days).Format("20060102")
}

func TestCheckPassesWhenDateIsOlderThanCutoffComparatorGreaterThan(t *testing.T) {
	err := datecheck.Check([]string{dateAgo(40)}, "30d", true)
	assert.NoError(t, err)
}

func TestCheckFailsWhenDateIsTooRecentComparatorGreaterThan(t *testing.T) {
	err := datecheck.Check([]string{dateAgo(10)}, "30d", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")
}

func TestCheckComparatorLessThanRequiresDateNewerThanCutoff(t *testing.T) {
	err := datecheck.Check([]string{dateAgo(10)}, "30d", false)
	assert.NoError(t, err)
}

func TestCheckComparatorLessThanRejectsDateOlderThanCutoff(t *testing.T) {
	err := datecheck.Check([]string{dateAgo(40)}, "30d", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too old")
}

func TestCheckAcceptsRelativeDateOffset(t *testing.T) {
	err := datecheck.Check([]string{"-40"}, "30d", true)
	assert.NoError(t, err)
}

func TestCheckRangeRequiresBothEndpoints(t *testing.T) {
	err := datecheck.Check([]string{dateAgo(40) + "/to/" + dateAgo(35)}, "30d", true)
	assert.NoError(t, err)

	err = datecheck.Check([]string{dateAgo(40) + "/to/" + dateAgo(5)}, "30d", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")
}

func TestCheckRangeWithByStepStillChecksEndpointsOnly(t *testing.T) {
	err := datecheck.Check([]string{dateAgo(40) + "/to/" + dateAgo(35) + "/by/1"}, "30d", true)
	assert.NoError(t, err)
}

func TestCheckSlashListRequiresAllElements(t *testing.T) {
	err := datecheck.Check([]string{dateAgo(40), dateAgo(38), dateAgo(5)}, "30d", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")
}

func TestCheckSlashListAllPassing(t *testing.T) {
	err := datecheck.Check([]string{dateAgo(40), dateAgo(38), dateAgo(36)}, "30d", true)
	assert.NoError(t, err)
}

func TestCheckDefaultOffsetIsNow(t *testing.T) {
	assert.NoError(t, datecheck.Check([]string{dateAgo(1)}, "", true))
}

func TestCheckInvalidDateFormatReturnsDateError(t *testing.T) {
	err := datecheck.Check([]string{"not-a-date"}, "30d", true)
	require.Error(t, err)
	var derr *datecheck.DateError
	require.ErrorAs(t, err, &derr)
}

func TestCheckInvalidRelativeDateReturnsDateError(t *testing.T) {
	err := datecheck.Check([]string{"-abc"}, "30d", true)
	require.Error(t, err)
	var derr *datecheck.DateError
	require.ErrorAs(t, err, &derr)
}

func TestCheckRuleGreaterThanMatchesDateOlderThanOffset(t *testing.T) {
	err := datecheck.CheckRule([]string{dateAgo(31)}, "> 30d")
	assert.NoError(t, err)
}

func TestCheckRuleGreaterThanRejectsDateNewerThanOffset(t *testing.T) {
	err := datecheck.CheckRule([]string{dateAgo(10)}, "> 30d")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")
}

func TestCheckRuleLessThanMatchesDateNewerThanOffset(t *testing.T) {
	err := datecheck.CheckRule([]string{dateAgo(10)}, "< 30d")
	assert.NoError(t, err)
}

func TestCheckRuleRejectsInvalidComparator(t *testing.T) {
	err := datecheck.CheckRule([]string{dateAgo(10)}, "!= 30d")
	require.Error(t, err)
	var derr *datecheck.DateError
	require.ErrorAs(t, err, &derr)
}

func TestCheckRuleRejectsMissingOffset(t *testing.T) {
	err := datecheck.CheckRule([]string{dateAgo(10)}, ">")
	require.Error(t, err)
	var derr *datecheck.DateError
	require.ErrorAs(t, err, &derr)
}

func TestCheckRuleScenarioEDateRange(t *testing.T) {
	err := datecheck.CheckRule([]string{dateAgo(40) + "/to/" + dateAgo(35)}, "> 30d")
	assert.NoError(t, err)
}

func TestCheckRulesIsDisjunctive(t *testing.T) {
	err := datecheck.CheckRules([]string{dateAgo(10)}, []string{"> 30d", "< 20d"})
	assert.NoError(t, err, "second rule should match even though the first doesn't")
}

func TestCheckRulesFailsWhenNoRuleMatches(t *testing.T) {
	err := datecheck.CheckRules([]string{dateAgo(10)}, []string{"> 30d", "> 15d"})
	require.Error(t, err)
	var derr *datecheck.DateError
	require.ErrorAs(t, err, &derr)
}

func TestCheckRulesEmptyRuleListAlwaysPasses(t *testing.T) {
	assert.NoError(t, datecheck.CheckRules([]string{dateAgo(10)}, nil))
}
