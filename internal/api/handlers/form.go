// form.go — разбор multipart-форм отправки кейса и плана симуляции.
// Все значения формы проверяются здесь, на границе HTTP: сервис получает
// типизированные файлы по словарю filetype и разобранные флаги намерения.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Hazimafiq/test-express-portal/internal/domain/filetype"
	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
	"github.com/Hazimafiq/test-express-portal/internal/domain/status"
	"github.com/Hazimafiq/test-express-portal/internal/service"
)

// multipartMemory — объём формы в памяти, остальное уходит во временные файлы.
const multipartMemory = 32 << 20

// flagSuffix — суффикс поля флага намерения: "<file_type>_flag".
const flagSuffix = "_flag"

// errPayloadTooLarge — тело запроса превышает лимит загрузки.
var errPayloadTooLarge = errors.New("размер запроса превышает лимит")

// formError — ошибка разбора формы, отдаётся клиенту как есть.
type formError struct {
	msg string
}

func (e *formError) Error() string { return e.msg }

func formErrorf(format string, args ...any) error {
	return &formError{msg: fmt.Sprintf(format, args...)}
}

// parsedForm — разобранная multipart-форма. Close освобождает открытые
// файлы и временные файлы формы.
type parsedForm struct {
	values  map[string][]string
	files   map[filetype.Type]service.FilePart
	closers []io.Closer
	form    *multipart.Form
}

func (p *parsedForm) value(key string) string {
	if v := p.values[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// Close закрывает файлы формы.
func (p *parsedForm) Close() {
	for _, c := range p.closers {
		_ = c.Close()
	}
	if p.form != nil {
		_ = p.form.RemoveAll()
	}
}

// parseMultipart разбирает multipart-форму с ограничением размера.
// Каждое файловое поле должно называться типом файла из словаря
// и содержать не более одного файла.
func parseMultipart(w http.ResponseWriter, r *http.Request, maxBytes int64) (*parsedForm, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errPayloadTooLarge
		}
		return nil, formErrorf("ошибка разбора multipart: %s", err.Error())
	}

	p := &parsedForm{
		values: r.MultipartForm.Value,
		files:  make(map[filetype.Type]service.FilePart),
		form:   r.MultipartForm,
	}

	for field, headers := range r.MultipartForm.File {
		ft, err := filetype.Parse(field)
		if err != nil {
			p.Close()
			return nil, formErrorf("%s", err.Error())
		}
		if len(headers) != 1 {
			p.Close()
			return nil, formErrorf("поле %s должно содержать ровно один файл", field)
		}
		fh := headers[0]
		f, err := fh.Open()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("открытие файла %s: %w", field, err)
		}
		p.closers = append(p.closers, f)
		p.files[ft] = service.FilePart{
			FileType:     ft,
			OriginalName: fh.Filename,
			ContentType:  partContentType(fh),
			Size:         fh.Size,
			Body:         f,
		}
	}
	return p, nil
}

// partContentType определяет MIME-тип файла: заголовок части,
// затем расширение имени, затем application/octet-stream.
func partContentType(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(fh.Filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// intents собирает флаги намерения "<type>_flag" и remove_file_ids.
func (p *parsedForm) intents() (service.IntentFlags, error) {
	flags := service.IntentFlags{ByType: make(map[filetype.Type]service.Intent)}

	for key := range p.values {
		name, ok := strings.CutSuffix(key, flagSuffix)
		if !ok {
			continue
		}
		ft, err := filetype.Parse(name)
		if err != nil {
			return flags, formErrorf("флаг %s: %s", key, err.Error())
		}
		intent, err := service.ParseIntent(p.value(key))
		if err != nil {
			return flags, err
		}
		if intent != service.IntentUnspecified {
			flags.ByType[ft] = intent
		}
	}

	ids, err := parseFileIDs(p.values["remove_file_ids"])
	if err != nil {
		return flags, err
	}
	flags.RemoveFileIDs = ids
	return flags, nil
}

// parseFileIDs разбирает номера файлов: повторяющееся поле или список через запятую.
func parseFileIDs(values []string) ([]int, error) {
	var ids []int
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			id, err := strconv.Atoi(s)
			if err != nil || id <= 0 {
				return nil, formErrorf("некорректный номер файла %q", s)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// caseInput собирает атрибуты кейса и клинические параметры из формы.
func (p *parsedForm) caseInput() (service.CaseInput, error) {
	in := service.CaseInput{
		Name:           p.value("name"),
		Gender:         p.value("gender"),
		Email:          p.value("email"),
		TreatmentBrand: p.value("treatment_brand"),
		CustomSN:       p.value("custom_sn"),
	}

	st, err := p.status()
	if err != nil {
		return in, err
	}
	in.Status = st

	if in.DOB, err = p.date("dob"); err != nil {
		return in, err
	}

	t := model.Treatment{
		Others:         p.value("others"),
		IPR:            p.value("ipr"),
		Attachments:    p.value("attachments"),
		TreatmentNotes: p.value("treatment_notes"),
		ModelType:      p.value("model_type"),
		Product:        p.value("product"),
	}
	if t.ArrivalDate, err = p.date("arrival_date"); err != nil {
		return in, err
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"crowding", &t.Crowding},
		{"deep_bite", &t.DeepBite},
		{"spacing", &t.Spacing},
		{"narrow_arch", &t.NarrowArch},
		{"class_ii_div_1", &t.ClassIIDiv1},
		{"class_ii_div_2", &t.ClassIIDiv2},
		{"class_iii", &t.ClassIII},
		{"open_bite", &t.OpenBite},
		{"overjet", &t.Overjet},
		{"anterior_crossbite", &t.AnteriorCrossbite},
		{"posterior_crossbite", &t.PosteriorCrossbite},
	}
	for _, b := range bools {
		v, err := parseCheckbox(p.value(b.key))
		if err != nil {
			return in, formErrorf("поле %s: %s", b.key, err.Error())
		}
		*b.dst = v
	}

	in.Treatment = t
	return in, nil
}

// status разбирает поле status: "0" (черновик) или "1" (отправка).
// Без поля кейс сохраняется черновиком.
func (p *parsedForm) status() (status.Status, error) {
	raw := p.value("status")
	if raw == "" {
		return status.Draft, nil
	}
	st, err := status.Parse(raw)
	if err != nil {
		return 0, formErrorf("%s", err.Error())
	}
	if st != status.Draft && st != status.Submitted {
		return 0, formErrorf("статус формы должен быть 0 (черновик) или 1 (отправка)")
	}
	return st, nil
}

// date разбирает необязательную дату в формате YYYY-MM-DD.
func (p *parsedForm) date(key string) (*time.Time, error) {
	raw := p.value(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateFormat, raw)
	if err != nil {
		return nil, formErrorf("поле %s: ожидается дата в формате YYYY-MM-DD", key)
	}
	return &t, nil
}

// parseCheckbox разбирает значение флажка формы.
func parseCheckbox(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "0", "false", "no", "off":
		return false, nil
	case "1", "true", "yes", "on":
		return true, nil
	default:
		return false, fmt.Errorf("недопустимое значение %q", s)
	}
}
