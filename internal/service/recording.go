package service

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

var (
	inboundRecordingRe  = regexp.MustCompile(`^external-(\d{4})-(\d{10,})-(\d{8})-(\d{6})-(\d+)\.`)
	outboundRecordingRe = regexp.MustCompile(`^out-(\d{10,})-(\d{4})-(\d{8})-(\d{6})-(\d+)\.`)
)

const recordingPreview = "📞 Call recording"

// RecordingName is the call metadata encoded in a PBX recording filename.
type RecordingName struct {
	Direction   model.Direction
	OfficeLast4 string
	OtherNumber string
	RecordedAt  time.Time
}

// ParseRecordingName decodes external-<last4>-<number>-<date>-<time>-<unix>.*
// (inbound) and out-<number>-<last4>-<date>-<time>-<unix>.* (outbound).
func ParseRecordingName(filename string) (*RecordingName, error) {
	var (
		name  RecordingName
		epoch string
	)
	if m := inboundRecordingRe.FindStringSubmatch(filename); m != nil {
		name = RecordingName{Direction: model.DirectionInbound, OfficeLast4: m[1], OtherNumber: m[2]}
		epoch = m[5]
	} else if m := outboundRecordingRe.FindStringSubmatch(filename); m != nil {
		name = RecordingName{Direction: model.DirectionOutbound, OtherNumber: m[1], OfficeLast4: m[2]}
		epoch = m[5]
	} else {
		return nil, validationError("could not parse call info from filename %q", filename)
	}
	secs, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return nil, validationError("invalid timestamp in filename %q", filename)
	}
	name.RecordedAt = time.Unix(secs, 0).UTC()
	return &name, nil
}

// E164 normalizes a bare North American number to +1XXXXXXXXXX.
func E164(digits string) string {
	switch {
	case strings.HasPrefix(digits, "+"):
		return digits
	case len(digits) == 10:
		return "+1" + digits
	default:
		return "+" + digits
	}
}

// RecordingService attaches PBX call recordings to conversations.
type RecordingService struct {
	store         store.Store
	resolver      *Resolver
	publicBaseURL string
	logger        *logger.Logger
}

// NewRecordingService creates a recording service. publicBaseURL prefixes
// bucket/path to form the recording's public URL.
func NewRecordingService(s store.Store, resolver *Resolver, publicBaseURL string, log *logger.Logger) *RecordingService {
	return &RecordingService{
		store:         s,
		resolver:      resolver,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        log,
	}
}

// Record stores a recording against the conversation of its number pair,
// creating the conversation in the single workspace whose number ends in
// the office digits when none exists.
func (s *RecordingService) Record(ctx context.Context, req *model.CallRecordingRequest) (*model.CallRecording, error) {
	if req.Filename == "" || req.Bucket == "" || req.Path == "" {
		return nil, validationError("filename, bucket and path are required")
	}
	if req.Size <= 0 {
		return nil, validationError("file size must be positive")
	}
	name, err := ParseRecordingName(req.Filename)
	if err != nil {
		return nil, err
	}

	conv, err := s.conversationFor(ctx, name)
	if err != nil {
		return nil, err
	}

	rec := &model.CallRecording{
		ID:               uuid.Must(uuid.NewV7()).String(),
		WorkspaceID:      conv.WorkspaceID,
		ConversationID:   conv.ID,
		Direction:        name.Direction,
		Filename:         req.Filename,
		FileSize:         req.Size,
		MimeType:         "audio/wav",
		PublicURL:        s.publicURL(req.Bucket, req.Path),
		RecordedAt:       name.RecordedAt,
		ProcessingStatus: "pending",
	}
	if err := s.store.CreateCallRecording(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store call recording: %w", err)
	}
	s.logger.Info("Call recording stored",
		zap.String("recording_id", rec.ID),
		logger.Conversation(conv.ID),
		logger.Workspace(conv.WorkspaceID),
	)
	return rec, nil
}

func (s *RecordingService) conversationFor(ctx context.Context, name *RecordingName) (*model.Conversation, error) {
	workspaces, err := s.store.WorkspacesByNumberSuffix(ctx, name.OfficeLast4)
	if err != nil {
		return nil, fmt.Errorf("failed to look up workspace: %w", err)
	}
	if len(workspaces) == 0 {
		return nil, validationError("no workspace matches office number ending %s", name.OfficeLast4)
	}
	// Only conversations owned by a workspace holding the office number qualify.
	ids := make([]int64, 0, len(workspaces))
	for _, ws := range workspaces {
		ids = append(ids, ws.ID)
	}
	matches, err := s.store.FindConversationsByNumberSuffix(ctx, ids, name.OfficeLast4, name.OtherNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to look up conversation: %w", err)
	}
	if len(matches) > 0 {
		return &matches[0], nil
	}
	if len(workspaces) != 1 {
		return nil, validationError("%d workspaces match office number ending %s", len(workspaces), name.OfficeLast4)
	}
	ws := workspaces[0]
	officeNumbers := ws.NumberWithSuffix(name.OfficeLast4)
	return s.resolver.Conversation(ctx, ws.ID, officeNumbers[0], E164(name.OtherNumber), recordingPreview, name.RecordedAt)
}

func (s *RecordingService) publicURL(bucket, objectPath string) string {
	p := path.Join(bucket, strings.TrimLeft(objectPath, "/"))
	if s.publicBaseURL == "" {
		return p
	}
	u, err := url.JoinPath(s.publicBaseURL, p)
	if err != nil {
		return s.publicBaseURL + "/" + p
	}
	return u
}
