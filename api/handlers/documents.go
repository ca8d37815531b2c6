package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	cldapi "github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/gorilla/mux"

	"github.com/linesmerrill/casecraft-api/api"
	"github.com/linesmerrill/casecraft-api/casestate"
	"github.com/linesmerrill/casecraft-api/config"
	"github.com/linesmerrill/casecraft-api/identity"
)

// Documents signs direct uploads of case documents to Cloudinary
type Documents struct {
	Engine       *casestate.Engine
	CloudName    string
	APIKey       string
	APISecret    string
	UploadPreset string
	Now          func() time.Time
}

type signatureResponse struct {
	Signature    string `json:"signature"`
	Timestamp    string `json:"timestamp"`
	Folder       string `json:"folder"`
	UploadPreset string `json:"uploadPreset,omitempty"`
	APIKey       string `json:"apiKey"`
	CloudName    string `json:"cloudName"`
}

// SignatureHandler returns the signed parameters for uploading a document into the
// case's folder
func (d Documents) SignatureHandler(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["case_id"]
	if d.APISecret == "" {
		config.ErrorStatus("document uploads are not configured", http.StatusServiceUnavailable, w,
			errors.New("CLOUDINARY_API_SECRET is not set"))
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if _, err := d.Engine.Authorize(ctx, caseID, identity.FromContext(ctx)); err != nil {
		writeError(w, "failed to get case", err)
		return
	}

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	timestamp := strconv.FormatInt(now().Unix(), 10)
	folder := "cases/" + caseID

	params := url.Values{}
	params.Set("timestamp", timestamp)
	params.Set("folder", folder)
	if d.UploadPreset != "" {
		params.Set("upload_preset", d.UploadPreset)
	}
	signature, err := cldapi.SignParameters(params, d.APISecret)
	if err != nil {
		config.ErrorStatus("failed to sign upload", http.StatusInternalServerError, w, err)
		return
	}

	writeJSON(w, http.StatusOK, signatureResponse{
		Signature:    signature,
		Timestamp:    timestamp,
		Folder:       folder,
		UploadPreset: d.UploadPreset,
		APIKey:       d.APIKey,
		CloudName:    d.CloudName,
	})
}
