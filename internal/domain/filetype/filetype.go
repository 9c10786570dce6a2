// Пакет filetype — закрытый словарь типов файлов кейса.
package filetype

import "fmt"

// Type — тип файла кейса. Совпадает с именем поля multipart-формы.
type Type string

const (
	UpperScan Type = "upper_scan"
	LowerScan Type = "lower_scan"
	BiteScan  Type = "bite_scan"

	Front        Type = "front"
	Smiling      Type = "smiling"
	RightSide    Type = "right_side"
	BuccalRight  Type = "buccal_right"
	BuccalCenter Type = "buccal_center"
	BuccalLeft   Type = "buccal_left"
	BuccalTop    Type = "buccal_top"
	BuccalBottom Type = "buccal_bottom"

	XRay      Type = "xray"
	Other     Type = "other"
	Documents Type = "documents"

	// IPR — файл схемы сепарации, прикладывается к плану симуляции
	IPR Type = "ipr"
)

var all = []Type{
	UpperScan, LowerScan, BiteScan,
	Front, Smiling, RightSide,
	BuccalRight, BuccalCenter, BuccalLeft, BuccalTop, BuccalBottom,
	XRay, Other, Documents, IPR,
}

var known = func() map[Type]bool {
	m := make(map[Type]bool, len(all))
	for _, t := range all {
		m[t] = true
	}
	return m
}()

// Group — набор типов файлов, скачиваемых одним архивом.
type Group string

const (
	GroupModels Group = "models"
	GroupPhotos Group = "photos"
)

var groups = map[Group][]Type{
	GroupModels: {UpperScan, LowerScan, BiteScan},
	GroupPhotos: {Front, Smiling, RightSide, BuccalRight, BuccalCenter, BuccalLeft, BuccalTop, BuccalBottom},
}

// All возвращает все известные типы в стабильном порядке.
func All() []Type {
	result := make([]Type, len(all))
	copy(result, all)
	return result
}

// Valid сообщает, входит ли тип в словарь.
func (t Type) Valid() bool {
	return known[t]
}

// Parse проверяет имя поля формы и возвращает тип файла.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("неизвестный тип файла: %q", s)
	}
	return t, nil
}

// PrimaryScans — сканы, без которых обычный кейс не может быть отправлен.
func PrimaryScans() []Type {
	return []Type{UpperScan, LowerScan}
}

// ParseGroup разбирает имя группы архива.
func ParseGroup(s string) (Group, error) {
	g := Group(s)
	if _, ok := groups[g]; !ok {
		return "", fmt.Errorf("неизвестная группа файлов: %q, допустимые: models, photos", s)
	}
	return g, nil
}

// Members возвращает типы файлов группы.
func (g Group) Members() []Type {
	return groups[g]
}
