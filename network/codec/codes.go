package codec

import (
	"fmt"

	"github.com/onflow/sectionnet/model/messages"
)

const (
	CodeMin uint8 = iota + 1

	// transport
	CodeEnvelope

	// joins
	CodeJoinRequest
	CodeJoinResponse

	// section agreement
	CodeProposalShare
	CodeAgreement

	// DKG
	CodeDKGMessage
	CodeDKGStart
	CodeDKGOutcome

	// section knowledge
	CodeSectionSyncRequest
	CodeSectionSync
	CodeSectionUpdate

	// liveness
	CodeHeartbeat

	// routed data
	CodeUserMessage

	CodeMax
)

// MessageCodeFromInterface returns the code of the message type of v. Values
// and pointers of a message type share the code.
func MessageCodeFromInterface(v interface{}) (uint8, string, error) {
	switch v.(type) {
	case *messages.Envelope, messages.Envelope:
		return CodeEnvelope, "CodeEnvelope", nil

	case *messages.JoinRequest, messages.JoinRequest:
		return CodeJoinRequest, "CodeJoinRequest", nil
	case *messages.JoinResponse, messages.JoinResponse:
		return CodeJoinResponse, "CodeJoinResponse", nil

	case *messages.ProposalShare, messages.ProposalShare:
		return CodeProposalShare, "CodeProposalShare", nil
	case *messages.Agreement, messages.Agreement:
		return CodeAgreement, "CodeAgreement", nil

	case *messages.DKGMessage, messages.DKGMessage:
		return CodeDKGMessage, "CodeDKGMessage", nil
	case *messages.DKGStart, messages.DKGStart:
		return CodeDKGStart, "CodeDKGStart", nil
	case *messages.DKGOutcome, messages.DKGOutcome:
		return CodeDKGOutcome, "CodeDKGOutcome", nil

	case *messages.SectionSyncRequest, messages.SectionSyncRequest:
		return CodeSectionSyncRequest, "CodeSectionSyncRequest", nil
	case *messages.SectionSync, messages.SectionSync:
		return CodeSectionSync, "CodeSectionSync", nil
	case *messages.SectionUpdate, messages.SectionUpdate:
		return CodeSectionUpdate, "CodeSectionUpdate", nil

	case *messages.Heartbeat, messages.Heartbeat:
		return CodeHeartbeat, "CodeHeartbeat", nil

	case *messages.UserMessage, messages.UserMessage:
		return CodeUserMessage, "CodeUserMessage", nil

	default:
		return 0, "", fmt.Errorf("message type %T has no code: %w", v, ErrInvalidEncoding)
	}
}

// InterfaceFromMessageCode returns a pointer to a zero value of the message
// type for code.
func InterfaceFromMessageCode(code uint8) (interface{}, string, error) {
	switch code {
	case CodeEnvelope:
		return &messages.Envelope{}, "CodeEnvelope", nil

	case CodeJoinRequest:
		return &messages.JoinRequest{}, "CodeJoinRequest", nil
	case CodeJoinResponse:
		return &messages.JoinResponse{}, "CodeJoinResponse", nil

	case CodeProposalShare:
		return &messages.ProposalShare{}, "CodeProposalShare", nil
	case CodeAgreement:
		return &messages.Agreement{}, "CodeAgreement", nil

	case CodeDKGMessage:
		return &messages.DKGMessage{}, "CodeDKGMessage", nil
	case CodeDKGStart:
		return &messages.DKGStart{}, "CodeDKGStart", nil
	case CodeDKGOutcome:
		return &messages.DKGOutcome{}, "CodeDKGOutcome", nil

	case CodeSectionSyncRequest:
		return &messages.SectionSyncRequest{}, "CodeSectionSyncRequest", nil
	case CodeSectionSync:
		return &messages.SectionSync{}, "CodeSectionSync", nil
	case CodeSectionUpdate:
		return &messages.SectionUpdate{}, "CodeSectionUpdate", nil

	case CodeHeartbeat:
		return &messages.Heartbeat{}, "CodeHeartbeat", nil

	case CodeUserMessage:
		return &messages.UserMessage{}, "CodeUserMessage", nil

	default:
		return nil, "", UnknownCodeError{Code: code}
	}
}
