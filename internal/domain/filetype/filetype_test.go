package filetype

import "testing"

func TestParse(t *testing.T) {
	for _, ft := range All() {
		got, err := Parse(string(ft))
		if err != nil {
			t.Errorf("Parse(%q): неожиданная ошибка: %v", ft, err)
		}
		if got != ft {
			t.Errorf("Parse(%q) = %q", ft, got)
		}
	}

	for _, bad := range []string{"", "UPPER_SCAN", "upper scan", "photo"} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q): ожидалась ошибка", bad)
		}
	}
}

func TestAll_ReturnsCopy(t *testing.T) {
	a := All()
	a[0] = "broken"
	if All()[0] != UpperScan {
		t.Error("All() должен возвращать копию")
	}
}

func TestGroups(t *testing.T) {
	models, err := ParseGroup("models")
	if err != nil {
		t.Fatalf("ParseGroup(models): %v", err)
	}
	if len(models.Members()) != 3 {
		t.Errorf("models: %d типов, ожидалось 3", len(models.Members()))
	}

	photos, err := ParseGroup("photos")
	if err != nil {
		t.Fatalf("ParseGroup(photos): %v", err)
	}
	if len(photos.Members()) != 8 {
		t.Errorf("photos: %d типов, ожидалось 8", len(photos.Members()))
	}
	for _, ft := range photos.Members() {
		if !ft.Valid() {
			t.Errorf("тип %q из группы photos не входит в словарь", ft)
		}
	}

	if _, err := ParseGroup("xray"); err == nil {
		t.Error("ParseGroup(xray): ожидалась ошибка")
	}
}
