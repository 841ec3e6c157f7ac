package http

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xeipuuv/gojsonschema"

	"github.com/agentwallet/payflow"
)

// batchSchema validates the batch start body before it reaches the core:
// a payer address plus at least one leg, each with recipient, a decimal
// amount string, and an optional token symbol.
const batchSchema = `{
	"type": "object",
	"required": ["user_address", "payments"],
	"properties": {
		"user_address": {"type": "string", "minLength": 1},
		"payments": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["recipient", "amount"],
				"properties": {
					"recipient": {"type": "string", "minLength": 1},
					"amount": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"},
					"token": {"type": "string"}
				}
			}
		}
	}
}`

var batchSchemaLoader = gojsonschema.NewStringLoader(batchSchema)

// validTaskKinds are the task types accepted on session start. Empty means
// the default probe task.
var validTaskKinds = map[string]bool{
	"":                            true,
	string(payflow.TaskProbe):     true,
	string(payflow.TaskNegotiate): true,
	string(payflow.TaskPay):       true,
}

func validateStartSession(req *StartSessionRequest) error {
	if !common.IsHexAddress(req.Payer) {
		return fmt.Errorf("user_address is not a valid address: %s", req.Payer)
	}
	if _, err := url.ParseRequestURI(req.TargetURL); err != nil {
		return fmt.Errorf("target_url is not a valid URL: %s", req.TargetURL)
	}
	if !validTaskKinds[req.TaskKind] {
		return fmt.Errorf("unknown task_type: %s", req.TaskKind)
	}
	if req.TaskKind == "" {
		req.TaskKind = string(payflow.TaskProbe)
	}
	return nil
}

// validateStartBatch checks the raw body against the batch schema, then
// decodes it and validates the recipient addresses.
func validateStartBatch(body []byte) (*StartBatchRequest, error) {
	result, err := gojsonschema.Validate(batchSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("invalid batch request: %w", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, fmt.Errorf("invalid batch request: %s", strings.Join(details, "; "))
	}

	var req StartBatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid batch request: %w", err)
	}

	if !common.IsHexAddress(req.Payer) {
		return nil, fmt.Errorf("user_address is not a valid address: %s", req.Payer)
	}
	for i, leg := range req.Legs {
		if !common.IsHexAddress(leg.Recipient) {
			return nil, fmt.Errorf("payment %d recipient is not a valid address: %s", i, leg.Recipient)
		}
	}

	return &req, nil
}

// validateAddSchedule normalizes the schedule kind and parses the optional
// execute_at timestamp.
func validateAddSchedule(req *AddScheduleRequest) (payflow.ScheduleKind, *time.Time, error) {
	if !common.IsHexAddress(req.Payer) {
		return "", nil, fmt.Errorf("user_address is not a valid address: %s", req.Payer)
	}
	if !common.IsHexAddress(req.Recipient) {
		return "", nil, fmt.Errorf("recipient is not a valid address: %s", req.Recipient)
	}

	kind := payflow.ScheduleKind(req.Kind)
	switch kind {
	case "":
		kind = payflow.ScheduleImmediate
	case payflow.ScheduleImmediate, payflow.ScheduleScheduled,
		payflow.ScheduleRecurring, payflow.ScheduleConditional:
	default:
		return "", nil, fmt.Errorf("unknown schedule_type: %s", req.Kind)
	}

	var executeAt *time.Time
	if req.ExecuteAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExecuteAt)
		if err != nil {
			return "", nil, fmt.Errorf("execute_at is not a valid RFC 3339 timestamp: %s", req.ExecuteAt)
		}
		executeAt = &t
	}
	if kind == payflow.ScheduleScheduled && executeAt == nil {
		return "", nil, fmt.Errorf("schedule_type %q requires execute_at", kind)
	}

	return kind, executeAt, nil
}
