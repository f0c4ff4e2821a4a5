package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"khyanalt/internal/aggregate"
	"khyanalt/internal/config"
	"khyanalt/internal/domain"
	"khyanalt/internal/imaging"
	"khyanalt/internal/mailer"
	"khyanalt/internal/report"
	"khyanalt/internal/store"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []*mailer.Message
}

func (r *recordingSender) Send(msg *mailer.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type testServer struct {
	ts         *httptest.Server
	st         *store.Store
	files      *imaging.FileStore
	sender     *recordingSender
	storageDir string
	token      string
	user       *domain.User
	insp       *domain.Inspection
	orgID      int64
}

func testPNGBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// minimalTemplate writes a tiny but valid .docx template.
func minimalTemplate(t *testing.T, dir, name string) {
	t.Helper()
	document := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body><w:p><w:r><w:t xml:space="preserve">Байцаагч: {{d.metadata.inspector}}</w:t></w:r></w:p><w:sectPr/></w:body></w:document>`
	contentTypes := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
</Types>`
	rels := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"/>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for part, content := range map[string]string{
		"[Content_Types].xml": contentTypes,
		"_rels/.rels":         rels,
		"word/document.xml":   document,
	} {
		w, err := zw.Create(part)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644))
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	storageDir := t.TempDir()
	templateDir := t.TempDir()
	minimalTemplate(t, templateDir, "report.docx")

	cfg := &config.Config{
		DatabasePath:      ":memory:",
		StoragePath:       storageDir,
		PublicURLBase:     "http://localhost:8080",
		PublicURLPrefix:   "uploads",
		TemplateDir:       templateDir,
		TemplateFile:      "report.docx",
		ReportImageWidth:  150,
		ReportImageHeight: 200,
		JWTSecret:         "test-secret",
		JWTTTL:            time.Hour,
	}

	org, err := st.CreateOrganization(ctx, &domain.Organization{
		Name: "Эрдэнэт ХХК", Code: "ERD", ContactEmail: "contact@erdenet.mn",
	})
	require.NoError(t, err)
	hash, err := HashPassword("nuuts-ug")
	require.NoError(t, err)
	user, err := st.CreateUser(ctx, &domain.User{
		OrganizationID: org.ID, FullName: "A. Batbold",
		Email: "batbold@erdenet.mn", Role: domain.RoleInspector, PasswordHash: hash,
	})
	require.NoError(t, err)
	device, err := st.CreateDevice(ctx, &domain.Device{OrganizationID: org.ID, SerialNo: "SC-1"})
	require.NoError(t, err)
	insp, err := st.CreateInspection(ctx, &domain.CreateInspectionParams{
		OrganizationID: org.ID, DeviceID: device.ID, Title: "Өдрийн үзлэг",
		Type: domain.TypeInspection, ScheduleType: domain.ScheduleDaily,
		AssignedTo: &user.ID, CreatedBy: user.ID,
	})
	require.NoError(t, err)

	files := imaging.NewFileStore(storageDir, cfg.PublicURLBase, cfg.PublicURLPrefix)
	engine := aggregate.New(st)
	composer := report.NewComposer(st, files, templateDir, "report.docx", 150, 200)
	sender := &recordingSender{}
	notifier := mailer.NewNotifier(st, composer, sender)

	srv := New(cfg, st, engine, files, composer, notifier)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	env := &testServer{
		ts: ts, st: st, files: files, sender: sender, storageDir: storageDir,
		user: user, insp: insp, orgID: org.ID,
	}
	env.token = env.login(t, "batbold@erdenet.mn", "nuuts-ug")
	return env
}

func (e *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(e.ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data loginResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NotEmpty(t, envelope.Data.Token)
	return envelope.Data.Token
}

// do issues an authorized request and decodes the envelope.
func (e *testServer) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	envelope := map[string]json.RawMessage{}
	_ = json.NewDecoder(resp.Body).Decode(&envelope)
	return resp, envelope
}

func (e *testServer) writeSection(t *testing.T, section string, extra map[string]interface{}) map[string]json.RawMessage {
	t.Helper()
	body := map[string]interface{}{
		"inspectionId": e.insp.ID,
		"section":      section,
		"answers":      map[string]interface{}{"platform_plate": map[string]interface{}{"status": "ok"}},
	}
	for k, v := range extra {
		body[k] = v
	}
	resp, envelope := e.do(t, http.MethodPost, "/api/inspections/section-answers", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return envelope
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"email": "batbold@erdenet.mn", "password": "wrong"})
	resp, err := http.Post(env.ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBearerTokenRequired(t *testing.T) {
	env := newTestServer(t)
	resp, err := http.Get(env.ts.URL + fmt.Sprintf("/api/inspections/%d", env.insp.ID))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSectionWriteAndCompletionEmail(t *testing.T) {
	env := newTestServer(t)

	sections := []string{"exterior", "indicator", "jbox", "sensor", "foundation", "cleanliness"}
	for i, section := range sections {
		extra := map[string]interface{}{}
		if i == 0 {
			extra["isFirstSection"] = true
			extra["answers"] = map[string]interface{}{
				"date":           "2024-06-01",
				"inspector":      "A. Batbold",
				"platform_plate": map[string]interface{}{"status": "ok"},
			}
		}
		if i == len(sections)-1 {
			extra["sectionStatus"] = "COMPLETED"
		}
		envelope := env.writeSection(t, section, extra)

		var res aggregate.Result
		require.NoError(t, json.Unmarshal(envelope["data"], &res))
		if i == len(sections)-1 {
			assert.True(t, res.IsCompletion)
			assert.Equal(t, 100, res.Progress)
		} else {
			assert.False(t, res.IsCompletion)
		}
	}

	insp, err := env.st.GetInspection(context.Background(), env.insp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, insp.Status)

	// One completion email attempt, delivered after the response.
	require.Eventually(t, func() bool { return env.sender.count() == 1 },
		3*time.Second, 20*time.Millisecond)
}

func TestImageSlotConflictReturns409(t *testing.T) {
	env := newTestServer(t)

	envelope := env.writeSection(t, "exterior", nil)
	var res aggregate.Result
	require.NoError(t, json.Unmarshal(envelope["data"], &res))

	payload := base64.StdEncoding.EncodeToString(testPNGBytes(t))
	upload := map[string]interface{}{
		"fieldId":  "beam",
		"section":  "exterior",
		"answerId": res.AnswerID,
		"images": []map[string]interface{}{
			{"base64": payload, "mimeType": "image/png", "order": 1},
		},
	}

	path := fmt.Sprintf("/api/inspections/%d/question-images", env.insp.ID)
	resp, _ := env.do(t, http.MethodPost, path, upload)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// The same slot again: 409 with the existing row in the payload.
	resp, envelope2 := env.do(t, http.MethodPost, path, upload)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, `"IMAGE_ALREADY_EXISTS"`, string(envelope2["error"]))

	var details conflictDetails
	require.NoError(t, json.Unmarshal(envelope2["details"], &details))
	assert.Equal(t, "beam", details.FieldID)
	assert.Equal(t, 1, details.Order)
	require.NotNil(t, details.ExistingImage)

	// No second file appeared for that (field, order).
	storageEntries, err := os.ReadDir(env.storageDir)
	require.NoError(t, err)
	matches := 0
	for _, e := range storageEntries {
		if strings.Contains(e.Name(), "_field_beam_") && strings.HasSuffix(e.Name(), "_1.png") {
			matches++
		}
	}
	assert.Equal(t, 1, matches)
}

func TestListQuestionImagesAndGallery(t *testing.T) {
	env := newTestServer(t)
	envelope := env.writeSection(t, "exterior", nil)
	var res aggregate.Result
	require.NoError(t, json.Unmarshal(envelope["data"], &res))

	payload := base64.StdEncoding.EncodeToString(testPNGBytes(t))
	upload := map[string]interface{}{
		"fieldId": "beam", "section": "exterior", "answerId": res.AnswerID,
		"images": []map[string]interface{}{{"base64": payload, "mimeType": "image/png", "order": 1}},
	}
	resp, _ := env.do(t, http.MethodPost,
		fmt.Sprintf("/api/inspections/%d/question-images", env.insp.ID), upload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, envelope = env.do(t, http.MethodGet,
		fmt.Sprintf("/api/inspections/%d/question-images?section=exterior", env.insp.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var views []imageView
	require.NoError(t, json.Unmarshal(envelope["data"], &views))
	require.Len(t, views, 1)
	assert.Equal(t, "beam", views[0].FieldID)
	assert.NotEmpty(t, views[0].Base64, "listing inlines image bytes")

	resp, envelope = env.do(t, http.MethodGet,
		fmt.Sprintf("/api/inspections/%d/image-gallery?includeData=false", env.insp.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var gallery map[string][]imageView
	require.NoError(t, json.Unmarshal(envelope["data"], &gallery))
	require.Len(t, gallery["exterior"], 1)
	assert.Empty(t, gallery["exterior"][0].Base64)
}

func TestDeleteInspectionCascadesOverHTTP(t *testing.T) {
	env := newTestServer(t)
	envelope := env.writeSection(t, "exterior", nil)
	var res aggregate.Result
	require.NoError(t, json.Unmarshal(envelope["data"], &res))

	payload := base64.StdEncoding.EncodeToString(testPNGBytes(t))
	upload := map[string]interface{}{
		"fieldId": "beam", "section": "exterior", "answerId": res.AnswerID,
		"images": []map[string]interface{}{{"base64": payload, "mimeType": "image/png", "order": 1}},
	}
	resp, _ := env.do(t, http.MethodPost,
		fmt.Sprintf("/api/inspections/%d/question-images", env.insp.ID), upload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, fmt.Sprintf("/api/inspections/%d", env.insp.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, fmt.Sprintf("/api/inspections/%d", env.insp.ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	images, err := env.st.ListImagesByInspection(context.Background(), env.insp.ID)
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestScheduleTypeListing(t *testing.T) {
	env := newTestServer(t)

	resp, envelope := env.do(t, http.MethodGet, "/api/inspections/by-schedule-type/DAILY", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var daily []inspectionView
	require.NoError(t, json.Unmarshal(envelope["data"], &daily))
	require.Len(t, daily, 1)
	assert.Equal(t, env.insp.ID, daily[0].ID)

	resp, envelope = env.do(t, http.MethodGet, "/api/inspections/by-schedule-type/SCHEDULED", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var scheduled []inspectionView
	require.NoError(t, json.Unmarshal(envelope["data"], &scheduled))
	assert.Empty(t, scheduled)

	resp, _ = env.do(t, http.MethodGet, "/api/inspections/by-schedule-type/WEEKLY", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignatureImageEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.writeSection(t, "exterior", nil)

	sig := "data:image/png;base64," + base64.StdEncoding.EncodeToString(testPNGBytes(t))
	resp, _ := env.do(t, http.MethodPost,
		fmt.Sprintf("/api/inspections/%d/signature-image", env.insp.ID),
		map[string]interface{}{"signatureImage": sig, "signatureType": "inspector"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rows, err := env.st.ListAnswersByInspection(context.Background(), env.insp.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	agg, err := aggregate.ParseDoc(rows[0].Answers)
	require.NoError(t, err)
	sigs, ok := agg.GetDoc("signatures")
	require.True(t, ok)
	got, _ := sigs.GetString("inspector")
	assert.Equal(t, sig, got)
}

func TestDocxEndpoint(t *testing.T) {
	env := newTestServer(t)
	envelope := env.writeSection(t, "exterior", map[string]interface{}{
		"isFirstSection": true,
		"answers": map[string]interface{}{
			"inspector":      "A. Batbold",
			"platform_plate": map[string]interface{}{"status": "ok"},
		},
	})
	var res aggregate.Result
	require.NoError(t, json.Unmarshal(envelope["data"], &res))

	req, err := http.NewRequest(http.MethodGet,
		env.ts.URL+fmt.Sprintf("/api/documents/answers/%d/docx", res.AnswerID), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, docxContentType, resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	found := false
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			require.NoError(t, err)
			var doc bytes.Buffer
			_, _ = doc.ReadFrom(rc)
			rc.Close()
			assert.Contains(t, doc.String(), "A. Batbold")
			found = true
		}
	}
	assert.True(t, found)
}

func TestForbiddenForOtherOrganization(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()

	other, err := env.st.CreateOrganization(ctx, &domain.Organization{Name: "Өөр", Code: "OTH"})
	require.NoError(t, err)
	hash, err := HashPassword("pass")
	require.NoError(t, err)
	outsider, err := env.st.CreateUser(ctx, &domain.User{
		OrganizationID: other.ID, FullName: "Гадны хүн",
		Email: "out@other.mn", Role: domain.RoleInspector, PasswordHash: hash,
	})
	require.NoError(t, err)
	_ = outsider

	outsiderToken := env.login(t, "out@other.mn", "pass")
	req, err := http.NewRequest(http.MethodGet,
		env.ts.URL+fmt.Sprintf("/api/inspections/%d", env.insp.ID), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+outsiderToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
