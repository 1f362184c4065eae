package call

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/followup-call-service/internal/ami"
	"github.com/acme/followup-call-service/internal/config"
	"github.com/acme/followup-call-service/internal/dialog"
	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/internal/registry"
	"github.com/acme/followup-call-service/internal/service/concurrency"
	apperrors "github.com/acme/followup-call-service/pkg/errors"
	"github.com/acme/followup-call-service/pkg/logger"
)

// ManagerClient is the slice of the protocol client the service needs.
type ManagerClient interface {
	Connected() bool
	Send(ctx context.Context, action ami.Action) (ami.Response, error)
}

// Service coordinates call origination, operator hangup and retries. All
// downstream dialog outcomes are observable only through call status; the
// origination result itself is returned synchronously.
type Service struct {
	client    ManagerClient
	reg       *registry.Registry
	dialogMgr *dialog.Manager
	limiter   *concurrency.Limiter
	manager   config.ManagerConfig
	dialogCfg config.DialogConfig
	log       *logger.Logger
}

// NewService builds the call service. limiter may be nil.
func NewService(
	client ManagerClient,
	reg *registry.Registry,
	dialogMgr *dialog.Manager,
	limiter *concurrency.Limiter,
	managerCfg config.ManagerConfig,
	dialogCfg config.DialogConfig,
	log *logger.Logger,
) *Service {
	return &Service{
		client:    client,
		reg:       reg,
		dialogMgr: dialogMgr,
		limiter:   limiter,
		manager:   managerCfg,
		dialogCfg: dialogCfg,
		log:       log,
	}
}

// StartCallInput is the origination request from the hospital system.
type StartCallInput struct {
	HospitalID       string
	PatientNumber    string
	PatientID        string
	PatientName      string
	PatientFirstName string
}

func (in StartCallInput) validate() error {
	var missing []string
	if in.HospitalID == "" {
		missing = append(missing, "hospital_id")
	}
	if in.PatientNumber == "" {
		missing = append(missing, "patient_number")
	}
	if in.PatientID == "" {
		missing = append(missing, "patient_id")
	}
	if in.PatientName == "" {
		missing = append(missing, "patient_name")
	}
	if in.PatientFirstName == "" {
		missing = append(missing, "patient_first_name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", apperrors.ErrValidation, strings.Join(missing, ", "))
	}
	if !strings.HasPrefix(in.PatientNumber, "+") {
		return fmt.Errorf("%w: patient_number must be E.164", apperrors.ErrValidation)
	}
	return nil
}

// StartCall validates the request, allocates the call record and issues the
// originate action. The caller gets a definite accept or reject; after
// acceptance the call progresses through events only.
func (s *Service) StartCall(ctx context.Context, input StartCallInput) (*domain.Call, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	return s.originate(ctx, domain.PatientContext{
		HospitalID:       input.HospitalID,
		PatientID:        input.PatientID,
		PatientName:      input.PatientName,
		PatientFirstName: input.PatientFirstName,
		PhoneNumber:      input.PatientNumber,
	}, 1)
}

// Retry re-originates a finished call with the same patient context,
// bumping the attempt counter.
func (s *Service) Retry(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	previous, err := s.reg.Get(callID)
	if err != nil {
		return nil, err
	}
	if !previous.Status.Terminal() {
		return nil, fmt.Errorf("%w: call %s is still active", apperrors.ErrConflict, callID)
	}
	if previous.Attempts >= previous.MaxAttempts {
		return nil, fmt.Errorf("%w: call %s exhausted %d attempts", apperrors.ErrValidation, callID, previous.MaxAttempts)
	}
	return s.originate(ctx, previous.Patient, previous.Attempts+1)
}

func (s *Service) originate(ctx context.Context, patient domain.PatientContext, attempt int) (*domain.Call, error) {
	if !s.client.Connected() {
		return nil, fmt.Errorf("%w: no manager connection", apperrors.ErrUnavailable)
	}

	release := func() {}
	if s.limiter != nil {
		acquired, err := s.limiter.Acquire(ctx, patient.HospitalID)
		if err != nil {
			return nil, fmt.Errorf("call service: acquire slot: %w", err)
		}
		if !acquired {
			return nil, fmt.Errorf("%w: hospital %s at concurrent call limit", apperrors.ErrQuotaExceeded, patient.HospitalID)
		}
		hospitalID := patient.HospitalID
		release = func() {
			if err := s.limiter.Release(context.Background(), hospitalID); err != nil {
				s.log.Warn("release call slot", zap.Error(err))
			}
		}
	}

	record, err := s.reg.Create(patient, s.dialogCfg.MaxAttempts)
	if err != nil {
		release()
		return nil, fmt.Errorf("call service: create record: %w", err)
	}

	if attempt > 1 {
		if record, err = s.reg.Update(record.ID, func(c *domain.Call) error {
			c.Attempts = attempt
			return nil
		}); err != nil {
			release()
			return nil, fmt.Errorf("call service: set attempt: %w", err)
		}
	}

	// The session must exist before the originate is sent: channel events
	// can arrive ahead of the action response.
	s.dialogMgr.Register(record.ID, release)

	action := ami.Originate(
		fmt.Sprintf("SIP/%s", patient.PhoneNumber),
		s.manager.DialContext,
		fmt.Sprintf("%s <%s>", s.manager.CallerIDName, patient.HospitalID),
		map[string]string{
			"CALL_ID":     record.ID.String(),
			"PATIENT_ID":  patient.PatientID,
			"HOSPITAL_ID": patient.HospitalID,
		},
		s.manager.OriginateTimeout.Milliseconds(),
	)

	resp, err := s.client.Send(ctx, action)
	if err != nil {
		s.dialogMgr.Abort(record.ID, fmt.Sprintf("originate rejected: %v", err))
		return nil, fmt.Errorf("call service: originate: %w", err)
	}

	updated, err := s.reg.Update(record.ID, func(c *domain.Call) error {
		c.Status = domain.CallStatusRinging
		if channel := resp.Get("Channel"); channel != "" {
			c.ChannelHandle = channel
		}
		return nil
	})
	if err != nil {
		// The transition raced a failure event; report what the record says.
		s.log.Warn("ringing transition lost", zap.Error(err))
		return s.reg.Get(record.ID)
	}

	s.log.Info("call originated",
		zap.String("call_id", record.ID.String()),
		zap.String("hospital_id", patient.HospitalID),
		zap.Int("attempt", attempt))
	return updated, nil
}

// Hangup cancels an in-flight call on operator request.
func (s *Service) Hangup(ctx context.Context, callID uuid.UUID) error {
	record, err := s.reg.Get(callID)
	if err != nil {
		return err
	}
	if record.Status.Terminal() {
		return fmt.Errorf("%w: call %s already %s", apperrors.ErrConflict, callID, record.Status)
	}
	if !s.dialogMgr.Cancel(callID) {
		return fmt.Errorf("%w: call %s has no active dialog", apperrors.ErrNotFound, callID)
	}
	return nil
}

// GetCall returns the call snapshot, active or retired.
func (s *Service) GetCall(_ context.Context, callID uuid.UUID) (*domain.Call, error) {
	return s.reg.Get(callID)
}

// ActiveCalls lists every non-terminal call.
func (s *Service) ActiveCalls(_ context.Context) []*domain.Call {
	return s.reg.ListActive()
}

// Connected reports whether the telephony session is up.
func (s *Service) Connected() bool {
	return s.client.Connected()
}
