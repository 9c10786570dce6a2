package status

import (
	"errors"
	"testing"
)

// TestTransitions проверяет полную матрицу переходов.
func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{Draft, Submitted, true},
		{Submitted, Draft, true},
		{Draft, Deleted, true},
		{Submitted, Deleted, true},
		{Draft, Draft, true},
		{Submitted, Submitted, true},
		{Deleted, Draft, false},
		{Deleted, Submitted, false},
		{Deleted, Deleted, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, ожидалось %v", tt.from, tt.to, got, tt.want)
		}
	}
}

// TestCheckTransition_DeletedIsTerminal проверяет, что deleted — конечный статус.
func TestCheckTransition_DeletedIsTerminal(t *testing.T) {
	for _, target := range []Status{Draft, Submitted, Deleted} {
		err := CheckTransition(Deleted, target)
		if err == nil {
			t.Fatalf("deleted → %s должен вернуть ошибку", target)
		}
		var te *TransitionError
		if !errors.As(err, &te) {
			t.Fatalf("ожидался *TransitionError, получен %T", err)
		}
		if te.Code != "INVALID_TRANSITION" {
			t.Errorf("ожидался код INVALID_TRANSITION, получен %q", te.Code)
		}
	}
}

func TestCheckTransition_InvalidTarget(t *testing.T) {
	err := CheckTransition(Draft, Status(2))
	var te *TransitionError
	if !errors.As(err, &te) || te.Code != "INVALID_STATUS" {
		t.Fatalf("ожидался INVALID_STATUS, получено %v", err)
	}
}

func TestSources(t *testing.T) {
	tests := []struct {
		to   Status
		want []Status
	}{
		{Submitted, []Status{Draft, Submitted}},
		{Draft, []Status{Draft, Submitted}},
		{Deleted, []Status{Draft, Submitted}},
	}

	for _, tt := range tests {
		got := Sources(tt.to)
		if len(got) != len(tt.want) {
			t.Fatalf("Sources(%s) = %v, ожидалось %v", tt.to, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Sources(%s)[%d] = %s, ожидалось %s", tt.to, i, got[i], tt.want[i])
			}
		}
	}
}

func TestAllowedOperations(t *testing.T) {
	if !CanPerform(Submitted, OpSimulate) {
		t.Error("simulate должен быть доступен для submitted")
	}
	if CanPerform(Draft, OpSimulate) {
		t.Error("simulate не должен быть доступен для draft")
	}
	for _, op := range []Operation{OpEdit, OpUpload, OpComment, OpSimulate} {
		if CanPerform(Deleted, op) {
			t.Errorf("%s не должен быть доступен для deleted", op)
		}
	}
	if !CanPerform(Deleted, OpDownload) {
		t.Error("download должен оставаться доступным для deleted")
	}

	ops := AllowedOperations(Deleted)
	if len(ops) != 2 || ops[0] != OpView || ops[1] != OpDownload {
		t.Errorf("AllowedOperations(deleted) = %v", ops)
	}

	err := CheckOperation(Deleted, OpEdit)
	var te *TransitionError
	if !errors.As(err, &te) || te.Code != "OPERATION_NOT_ALLOWED" {
		t.Errorf("CheckOperation(deleted, edit) = %v", err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"0", Draft, false},
		{"1", Submitted, false},
		{"-1", Deleted, false},
		{"draft", Draft, false},
		{" Submitted ", Submitted, false},
		{"deleted", Deleted, false},
		{"2", 0, true},
		{"", 0, true},
		{"archived", 0, true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): ожидалась ошибка", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): неожиданная ошибка: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %s, ожидалось %s", tt.in, got, tt.want)
		}
	}
}

func TestString(t *testing.T) {
	if Draft.String() != "draft" || Submitted.String() != "submitted" || Deleted.String() != "deleted" {
		t.Error("некорректные имена статусов")
	}
	if Status(5).String() != "unknown(5)" {
		t.Errorf("Status(5).String() = %q", Status(5).String())
	}
}
