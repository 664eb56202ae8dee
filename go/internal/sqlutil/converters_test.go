package sqlutil

import (
	"testing"
	"time"
)

func TestStringRoundTrip(t *testing.T) {
	if ToSqlString("").Valid {
		t.Fatal("empty string should be NULL")
	}
	if got := FromSqlString(ToSqlString("0xabc"), "-"); got != "0xabc" {
		t.Fatalf("FromSqlString = %q", got)
	}
	if got := FromSqlString(ToSqlString(""), "-"); got != "-" {
		t.Fatalf("FromSqlString(NULL) = %q, want default", got)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	if ToSqlTime(time.Time{}).Valid {
		t.Fatal("zero time should be NULL")
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if got := FromSqlTime(ToSqlTime(now)); !got.Equal(now) {
		t.Fatalf("FromSqlTime = %v, want %v", got, now)
	}
}
