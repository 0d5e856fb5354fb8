package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"udl/application/store"
	"udl/domain/node"
	"udl/pkg/errors"
)

// CanonicalPayload is the body shape the default handler accepts.
type CanonicalPayload struct {
	Operation string         `json:"operation" validate:"required,oneof=create update delete upsert"`
	NodeID    any            `json:"nodeId" validate:"required"`
	NodeType  string         `json:"nodeType" validate:"required"`
	Data      map[string]any `json:"data"`
}

const payloadSchemaHint = `expected {"operation":"create|update|delete|upsert","nodeId":...,"nodeType":"...","data":{...}}`

var payloadValidator = validator.New()

// NewDefaultHandler builds the standard CRUD-over-HTTP handler installed
// for plugins that register no custom handler but declare an idField.
// Nodes are matched by (nodeType, idField = nodeId) with numeric/string
// coercion; internal ids are a deterministic hash of nodeType and the
// external id, so replays land on the same node.
func NewDefaultHandler(idField string) Handler {
	return func(ctx context.Context, hc *HandlerContext) (any, error) {
		payload, err := parseCanonicalPayload(hc.Webhook)
		if err != nil {
			return nil, err
		}

		existing := matchByExternalID(hc, payload.NodeType, idField, payload.NodeID)

		switch payload.Operation {
		case "create":
			if existing != nil {
				return nil, errors.NewAlreadyRegistered("node already exists for external id")
			}
			created, err := createFromPayload(hc, idField, payload)
			if err != nil {
				return nil, err
			}
			return map[string]any{"created": true, "nodeId": created.ID()}, nil

		case "update":
			if existing == nil {
				return nil, errors.NewNotFound("no node matches external id")
			}
			updated, err := replacePayload(hc, existing, payload)
			if err != nil {
				return nil, err
			}
			return map[string]any{"updated": true, "nodeId": updated.ID()}, nil

		case "upsert":
			if existing == nil {
				created, err := createFromPayload(hc, idField, payload)
				if err != nil {
					return nil, err
				}
				return map[string]any{"upserted": true, "wasUpdate": false, "nodeId": created.ID()}, nil
			}
			updated, err := replacePayload(hc, existing, payload)
			if err != nil {
				return nil, err
			}
			return map[string]any{"upserted": true, "wasUpdate": true, "nodeId": updated.ID()}, nil

		case "delete":
			if existing == nil {
				return nil, errors.NewNotFound("no node matches external id")
			}
			if _, err := hc.Actions.DeleteNode(existing.ID(), false); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true, "nodeId": existing.ID()}, nil
		}

		// Unreachable: the validator pins the operation set.
		return nil, errors.NewValidation(payloadSchemaHint)
	}
}

func parseCanonicalPayload(w *QueuedWebhook) (*CanonicalPayload, error) {
	var payload CanonicalPayload
	if err := json.Unmarshal(w.RawBody, &payload); err != nil {
		return nil, errors.NewValidation("malformed webhook body; " + payloadSchemaHint)
	}
	if err := payloadValidator.Struct(&payload); err != nil {
		return nil, errors.NewValidation("invalid webhook body; " + payloadSchemaHint)
	}
	// data is required for everything except delete.
	if payload.Operation != "delete" && payload.Data == nil {
		return nil, errors.NewValidation("data is required for " + payload.Operation + "; " + payloadSchemaHint)
	}
	return &payload, nil
}

func matchByExternalID(hc *HandlerContext, nodeType, idField string, externalID any) *node.Node {
	matches := hc.Store.GetByField(nodeType, idField, externalID)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

func createFromPayload(hc *HandlerContext, idField string, payload *CanonicalPayload) (*node.Node, error) {
	fields := payload.Data
	if _, ok := fields[idField]; !ok {
		fields[idField] = payload.NodeID
	}
	return hc.Actions.CreateNode(&node.Node{
		Internal: node.Internal{
			ID:   internalID(payload.NodeType, payload.NodeID),
			Type: payload.NodeType,
		},
		Fields: fields,
	})
}

// replacePayload swaps the node's payload wholesale while keeping its
// internal id, so downstream references stay stable across updates.
func replacePayload(hc *HandlerContext, existing *node.Node, payload *CanonicalPayload) (*node.Node, error) {
	return hc.Actions.CreateNode(&node.Node{
		Internal: node.Internal{
			ID:   existing.ID(),
			Type: payload.NodeType,
		},
		Parent: existing.Parent,
		Fields: payload.Data,
	})
}

func internalID(nodeType string, externalID any) string {
	sum := sha256.Sum256([]byte(nodeType + ":" + store.NormalizeValue(externalID)))
	return hex.EncodeToString(sum[:16])
}
