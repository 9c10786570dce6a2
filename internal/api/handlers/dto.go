// dto.go — JSON-представления ответов API и функции преобразования
// доменных моделей. Ключи объектов и подписанные ссылки наружу не выдаются.
package handlers

import (
	"time"

	"github.com/Hazimafiq/test-express-portal/internal/domain/model"
	"github.com/Hazimafiq/test-express-portal/internal/domain/status"
	"github.com/Hazimafiq/test-express-portal/internal/service"
)

// dateFormat — формат дат без времени (dob, arrival_date, диапазоны поиска).
const dateFormat = "2006-01-02"

type caseResponse struct {
	CaseID         string    `json:"case_id"`
	Name           string    `json:"name"`
	Gender         string    `json:"gender,omitempty"`
	DOB            *string   `json:"dob"`
	Email          string    `json:"email,omitempty"`
	TreatmentBrand string    `json:"treatment_brand"`
	CustomSN       string    `json:"custom_sn,omitempty"`
	Category       string    `json:"category"`
	OwnerID        string    `json:"owner_id"`
	Status         int       `json:"status"`
	StatusName     string    `json:"status_name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type treatmentResponse struct {
	Crowding           bool    `json:"crowding"`
	DeepBite           bool    `json:"deep_bite"`
	Spacing            bool    `json:"spacing"`
	NarrowArch         bool    `json:"narrow_arch"`
	ClassIIDiv1        bool    `json:"class_ii_div_1"`
	ClassIIDiv2        bool    `json:"class_ii_div_2"`
	ClassIII           bool    `json:"class_iii"`
	OpenBite           bool    `json:"open_bite"`
	Overjet            bool    `json:"overjet"`
	AnteriorCrossbite  bool    `json:"anterior_crossbite"`
	PosteriorCrossbite bool    `json:"posterior_crossbite"`
	Others             string  `json:"others,omitempty"`
	IPR                string  `json:"ipr,omitempty"`
	Attachments        string  `json:"attachments,omitempty"`
	TreatmentNotes     string  `json:"treatment_notes,omitempty"`
	ModelType          string  `json:"model_type,omitempty"`
	Product            string  `json:"product,omitempty"`
	ArrivalDate        *string `json:"arrival_date"`
}

type fileResponse struct {
	FileID           int       `json:"file_id"`
	FileType         string    `json:"file_type"`
	SimulationNumber *int      `json:"simulation_number,omitempty"`
	OriginalName     string    `json:"original_name"`
	Size             int64     `json:"size"`
	ContentType      string    `json:"content_type"`
	Link             string    `json:"link"`
	AccessCount      int       `json:"access_count"`
	UploadedBy       string    `json:"uploaded_by"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type fileFailureResponse struct {
	FileType     string `json:"file_type,omitempty"`
	FileID       int    `json:"file_id,omitempty"`
	OriginalName string `json:"original_name,omitempty"`
	Op           string `json:"op"`
	Message      string `json:"message"`
}

type reconcileReportResponse struct {
	Inserted []int                 `json:"inserted"`
	Updated  []int                 `json:"updated"`
	Removed  int                   `json:"removed"`
	Failures []fileFailureResponse `json:"failures"`
}

type submitResponse struct {
	CaseID  string                   `json:"case_id"`
	Status  int                      `json:"status"`
	Partial bool                     `json:"partial"`
	Files   *reconcileReportResponse `json:"files,omitempty"`
}

type caseDetailsResponse struct {
	Case       caseResponse       `json:"case"`
	Treatment  *treatmentResponse `json:"treatment"`
	Files      []fileResponse     `json:"files"`
	Operations []string           `json:"operations"`
}

type caseListResponse struct {
	Cases  []caseResponse `json:"cases"`
	Total  int            `json:"total"`
	Count  int            `json:"count"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type statusCountsResponse struct {
	All       int `json:"all"`
	Submitted int `json:"submitted"`
	Draft     int `json:"draft"`
}

type simulationResponse struct {
	SimulationNumber int            `json:"simulation_number"`
	SimulationURL    string         `json:"simulation_url"`
	Decision         *string        `json:"decision"`
	CreatedBy        string         `json:"created_by"`
	DecidedBy        *string        `json:"decided_by"`
	DecidedAt        *time.Time     `json:"decided_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	IPRFiles         []fileResponse `json:"ipr_files"`
}

type simulationCreatedResponse struct {
	Simulation simulationResponse       `json:"simulation"`
	Partial    bool                     `json:"partial"`
	Files      *reconcileReportResponse `json:"files,omitempty"`
}

type commentResponse struct {
	ID         int64     `json:"id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateFormat)
	return &s
}

func caseToResponse(c *model.Case) caseResponse {
	return caseResponse{
		CaseID:         c.CaseID,
		Name:           c.Name,
		Gender:         c.Gender,
		DOB:            formatDate(c.DOB),
		Email:          c.Email,
		TreatmentBrand: c.TreatmentBrand,
		CustomSN:       c.CustomSN,
		Category:       c.Category,
		OwnerID:        c.OwnerID,
		Status:         int(c.Status),
		StatusName:     c.Status.String(),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func treatmentToResponse(t *model.Treatment) *treatmentResponse {
	if t == nil {
		return nil
	}
	return &treatmentResponse{
		Crowding:           t.Crowding,
		DeepBite:           t.DeepBite,
		Spacing:            t.Spacing,
		NarrowArch:         t.NarrowArch,
		ClassIIDiv1:        t.ClassIIDiv1,
		ClassIIDiv2:        t.ClassIIDiv2,
		ClassIII:           t.ClassIII,
		OpenBite:           t.OpenBite,
		Overjet:            t.Overjet,
		AnteriorCrossbite:  t.AnteriorCrossbite,
		PosteriorCrossbite: t.PosteriorCrossbite,
		Others:             t.Others,
		IPR:                t.IPR,
		Attachments:        t.Attachments,
		TreatmentNotes:     t.TreatmentNotes,
		ModelType:          t.ModelType,
		Product:            t.Product,
		ArrivalDate:        formatDate(t.ArrivalDate),
	}
}

func fileToResponse(f *model.CaseFile) fileResponse {
	return fileResponse{
		FileID:           f.FileID,
		FileType:         string(f.FileType),
		SimulationNumber: f.SimulationNumber,
		OriginalName:     f.OriginalName,
		Size:             f.Size,
		ContentType:      f.ContentType,
		Link:             f.SignedURLPath,
		AccessCount:      f.AccessCount,
		UploadedBy:       f.UploadedBy,
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.UpdatedAt,
	}
}

func filesToResponse(files []*model.CaseFile) []fileResponse {
	result := make([]fileResponse, 0, len(files))
	for _, f := range files {
		result = append(result, fileToResponse(f))
	}
	return result
}

func reportToResponse(r *service.ReconcileReport) *reconcileReportResponse {
	if r == nil {
		return nil
	}
	resp := &reconcileReportResponse{
		Inserted: append([]int{}, r.Inserted...),
		Updated:  append([]int{}, r.Updated...),
		Removed:  r.Removed,
		Failures: make([]fileFailureResponse, 0, len(r.Failures)),
	}
	for _, f := range r.Failures {
		resp.Failures = append(resp.Failures, fileFailureResponse{
			FileType:     string(f.FileType),
			FileID:       f.FileID,
			OriginalName: f.OriginalName,
			Op:           f.Op,
			Message:      failureMessage(f.Op),
		})
	}
	return resp
}

// failureMessage — сообщение клиенту по операции; причина сбоя остаётся в логах.
func failureMessage(op string) string {
	switch op {
	case "insert":
		return "не удалось загрузить файл"
	case "update":
		return "не удалось заменить файл"
	case "remove":
		return "не удалось удалить файл"
	case "lookup":
		return "не удалось проверить файл"
	default:
		return "не удалось обработать файл"
	}
}

func submitToResponse(res *service.SubmitResult, partial bool) submitResponse {
	return submitResponse{
		CaseID:  res.CaseID,
		Status:  int(res.Status),
		Partial: partial,
		Files:   reportToResponse(res.Report),
	}
}

func operationsToResponse(ops []status.Operation) []string {
	result := make([]string, 0, len(ops))
	for _, op := range ops {
		result = append(result, string(op))
	}
	return result
}

func simulationToResponse(p *model.SimulationPlan) simulationResponse {
	return simulationResponse{
		SimulationNumber: p.SimulationNumber,
		SimulationURL:    p.SimulationURL,
		Decision:         p.Decision,
		CreatedBy:        p.CreatedBy,
		DecidedBy:        p.DecidedBy,
		DecidedAt:        p.DecidedAt,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
		IPRFiles:         filesToResponse(p.IPRFiles),
	}
}

func commentToResponse(c *model.Comment) commentResponse {
	return commentResponse{
		ID:         c.ID,
		AuthorID:   c.AuthorID,
		AuthorName: c.AuthorName,
		Body:       c.Body,
		CreatedAt:  c.CreatedAt,
	}
}
