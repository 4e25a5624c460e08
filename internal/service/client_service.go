package service

import (
	"context"
	"math/big"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/backoffice/internal/auth"
	"github.com/spec-kit/backoffice/internal/domain"
	"github.com/spec-kit/backoffice/internal/payment"
	"github.com/spec-kit/backoffice/internal/repository"
	"github.com/spec-kit/backoffice/internal/security"
	apperrors "github.com/spec-kit/backoffice/pkg/util/errorutil"
)

// ClientService manages client payment information. IBANs are encrypted
// before they reach the repository and only ever leave it masked.
type ClientService struct {
	clients   repository.ClientRepository
	protector *security.Protector
	auditor   payment.Auditor
	logger    *zap.Logger
}

// NewClientService builds the service.
func NewClientService(clients repository.ClientRepository, protector *security.Protector, auditor payment.Auditor, logger *zap.Logger) *ClientService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientService{clients: clients, protector: protector, auditor: auditor, logger: logger}
}

// PaymentInfo is the masked view of a client's payment details.
type PaymentInfo struct {
	ClientID int64
	IBAN     string
	HasIBAN  bool
}

// SetPaymentInfo validates, encrypts and stores a client IBAN. An empty
// IBAN clears the stored value.
func (s *ClientService) SetPaymentInfo(ctx context.Context, principal *auth.Principal, clientID int64, iban string) (*PaymentInfo, error) {
	if err := requireClientManager(principal); err != nil {
		return nil, err
	}

	normalized := NormalizeIBAN(iban)
	if normalized != "" && !ValidIBAN(normalized) {
		return nil, apperrors.NewValidationError("invalid IBAN", nil)
	}

	encrypted, err := s.protector.Encrypt(normalized)
	if err != nil {
		return nil, err
	}
	if err := s.clients.UpdateEncryptedIBAN(ctx, principal.CompanyID, clientID, string(encrypted)); err != nil {
		return nil, err
	}

	info := maskedInfo(clientID, normalized)
	if s.auditor != nil {
		s.auditor.Record(domain.AuditEvent{
			ActorID:   principal.SubjectID,
			CompanyID: principal.CompanyID,
			Action:    domain.AuditActionClientIBANUpdate,
			MaskedPayload: map[string]any{
				"client_id": clientID,
				"iban":      info.IBAN,
			},
			Outcome: domain.AuditOutcomeSuccess,
		})
	}
	s.logger.Info("client payment info updated", zap.Int64("client_id", clientID), zap.String("iban", info.IBAN))
	return info, nil
}

// GetPaymentInfo returns the masked IBAN of a client.
func (s *ClientService) GetPaymentInfo(ctx context.Context, principal *auth.Principal, clientID int64) (*PaymentInfo, error) {
	if err := requireClientManager(principal); err != nil {
		return nil, err
	}

	client, err := s.clients.GetByID(ctx, principal.CompanyID, clientID)
	if err != nil {
		return nil, err
	}

	iban, err := s.protector.Decrypt(security.EncryptedField(client.EncryptedIBAN))
	if err != nil {
		s.logger.Error("stored IBAN could not be decrypted", zap.Int64("client_id", clientID))
		return nil, err
	}
	return maskedInfo(clientID, iban), nil
}

func maskedInfo(clientID int64, iban string) *PaymentInfo {
	if iban == "" {
		return &PaymentInfo{ClientID: clientID}
	}
	return &PaymentInfo{ClientID: clientID, IBAN: security.MaskAccount(iban), HasIBAN: true}
}

func requireClientManager(principal *auth.Principal) error {
	if principal == nil || (!principal.IsAdmin && !principal.IsAgent) {
		return apperrors.NewForbidden("admin or agent required")
	}
	return nil
}

// NormalizeIBAN strips whitespace and upper-cases the value.
func NormalizeIBAN(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), ""))
}

// ValidIBAN checks the shape and the ISO 13616 mod-97 checksum.
func ValidIBAN(iban string) bool {
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	for i := 0; i < 2; i++ {
		if iban[i] < 'A' || iban[i] > 'Z' {
			return false
		}
	}
	if iban[2] < '0' || iban[2] > '9' || iban[3] < '0' || iban[3] > '9' {
		return false
	}

	var digits strings.Builder
	for _, c := range iban[4:] + iban[:4] {
		switch {
		case c >= '0' && c <= '9':
			digits.WriteRune(c)
		case c >= 'A' && c <= 'Z':
			digits.WriteString(strconv.Itoa(int(c-'A') + 10))
		default:
			return false
		}
	}

	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}
