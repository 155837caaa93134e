package engine

import (
	"context"
	"fmt"
	"strings"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/internal/app/domain/flow"
	"github.com/flowforge/platform/internal/app/providers"
)

// executeProviderAction dispatches dotted node types (mtn.requestToPay,
// fW.fWVerifyPayment, ...) to the matching provider client. Credentials are
// loaded from the referenced connection and decrypted only for the duration
// of the call.
func (s *Service) executeProviderAction(ctx context.Context, nc nodeContext, node flow.Node, inputs map[string]any) (map[string]any, error) {
	parts := strings.SplitN(node.Type, ".", 2)
	provider := strings.ToLower(parts[0])
	operation := parts[1]

	connectionID := stringConfig(node.Config, "connection_id", "")
	if connectionID == "" {
		return nil, apperr.Validation(fmt.Sprintf("%s action requires connection_id", node.Type))
	}
	conn, err := s.connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, apperr.NotFound("connection")
	}
	if nc.userID != "" && conn.OwnerUserID != nc.userID {
		return nil, apperr.Forbidden("connection belongs to another user")
	}

	switch provider {
	case "mtn":
		var creds providers.MTNCredentials
		if err := s.vault.Decrypt(conn.ConfigEnc, &creds); err != nil {
			return nil, apperr.Internal(err)
		}
		return s.executeMTN(ctx, nc, operation, creds, node, inputs)

	case "fw", "flutterwave":
		var creds providers.FlutterwaveCredentials
		if err := s.vault.Decrypt(conn.ConfigEnc, &creds); err != nil {
			return nil, apperr.Internal(err)
		}
		return s.executeFlutterwave(ctx, nc, operation, creds, node, inputs)

	default:
		return nil, apperr.Validation(fmt.Sprintf("unrecognized provider %q", provider))
	}
}

func (s *Service) executeMTN(ctx context.Context, nc nodeContext, operation string, creds providers.MTNCredentials, node flow.Node, inputs map[string]any) (map[string]any, error) {
	switch operation {
	case "requestToPay":
		ref, err := s.mtn.RequestToPay(ctx, nc.orgID, creds, providers.PaymentRequest{
			Amount:     configOrInput(node, inputs, "amount"),
			Currency:   configOrInput(node, inputs, "currency"),
			Payer:      configOrInput(node, inputs, "payer"),
			ExternalID: configOrInput(node, inputs, "external_id"),
			Note:       stringConfig(node.Config, "note", ""),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"reference_id": ref, "status": "pending"}, nil

	case "status":
		ref := configOrInput(node, inputs, "reference_id")
		return s.mtn.PaymentStatus(ctx, nc.orgID, creds, ref)

	case "balance":
		return s.mtn.Balance(ctx, nc.orgID, creds)

	case "accountHolder":
		active, err := s.mtn.AccountHolderActive(ctx, nc.orgID, creds, configOrInput(node, inputs, "msisdn"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"active": active}, nil

	default:
		return nil, apperr.Validation(fmt.Sprintf("unrecognized mtn operation %q", operation))
	}
}

func (s *Service) executeFlutterwave(ctx context.Context, nc nodeContext, operation string, creds providers.FlutterwaveCredentials, node flow.Node, inputs map[string]any) (map[string]any, error) {
	switch operation {
	case "fWPay":
		link, err := s.flutterwave.HostedPayment(ctx, nc.orgID, creds,
			configOrInput(node, inputs, "tx_ref"),
			configOrInput(node, inputs, "amount"),
			configOrInput(node, inputs, "currency"),
			stringConfig(node.Config, "redirect_url", ""),
			configOrInput(node, inputs, "customer_email"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"link": link}, nil

	case "fWVerifyPayment":
		return s.flutterwave.VerifyByReference(ctx, nc.orgID, creds, configOrInput(node, inputs, "tx_ref"))

	default:
		return nil, apperr.Validation(fmt.Sprintf("unrecognized flutterwave operation %q", operation))
	}
}

// configOrInput prefers node config, falling back to the merged inputs.
func configOrInput(node flow.Node, inputs map[string]any, key string) string {
	if value := stringConfig(node.Config, key, ""); value != "" {
		return value
	}
	merged := mergeInputs(inputs)
	if value, ok := merged[key]; ok {
		return fmt.Sprint(value)
	}
	return ""
}
