package lifecycle

import (
	"fmt"
	"time"
)

func mustDay(value string) time.Time {
	d, err := ParseDay(value)
	if err != nil {
		panic(err)
	}
	return d
}

func dayRef(value string) *time.Time {
	d := mustDay(value)
	return &d
}

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func sequenceIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func testEnv(today string) Env {
	return Env{
		Today:                   mustDay(today),
		Now:                     func() time.Time { return fixedNow },
		NewID:                   sequenceIDs("id"),
		PeriodIDFor:             func(transitionID string) string { return "p-" + transitionID },
		DefaultMembershipTypeID: "ORDENTLICH",
	}
}

func transition(id string, from, to Status, date string) Transition {
	return Transition{
		ID:            id,
		MemberID:      "m-1",
		FromStatus:    from,
		ToStatus:      to,
		Reason:        "recorded",
		EffectiveDate: mustDay(date),
		CreatedAt:     fixedNow,
	}
}

func period(id, join string, leave *time.Time, typeID string) Period {
	return Period{
		ID:               id,
		MemberID:         "m-1",
		JoinDate:         mustDay(join),
		LeaveDate:        leave,
		MembershipTypeID: typeID,
		CreatedAt:        fixedNow,
		UpdatedAt:        fixedNow,
	}
}

func periodIDs(periods []Period) []string {
	out := make([]string, 0, len(periods))
	for _, p := range periods {
		out = append(out, p.ID)
	}
	return out
}

func findPeriod(periods []Period, id string) (Period, bool) {
	for _, p := range periods {
		if p.ID == id {
			return p, true
		}
	}
	return Period{}, false
}
