package deriv

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"digit-trader/internal/domain"
)

// Message types as declared by msg_type.
const (
	TypeAuthorize    = "authorize"
	TypeTick         = "tick"
	TypeProposal     = "proposal"
	TypeBuy          = "buy"
	TypeOpenContract = "proposal_open_contract"
	TypePortfolio    = "portfolio"
	TypeProfitTable  = "profit_table"
	TypeBalance      = "balance"
	TypePing         = "ping"
	TypePong         = "pong"
)

// APIError is the error envelope of a reply.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Message is the closed set of decoded inbound messages.
type Message interface {
	Type() string
	ReqID() int64
	Err() *APIError
	// SubscriptionID is the stream id for subscription traffic, "" otherwise.
	SubscriptionID() string

	sealed()
}

// Header is the part every inbound message shares.
type Header struct {
	MsgType      string            `json:"msg_type"`
	RequestID    int64             `json:"req_id"`
	Error        *APIError         `json:"error"`
	Subscription *SubscriptionInfo `json:"subscription"`
}

// SubscriptionInfo identifies a server-side stream.
type SubscriptionInfo struct {
	ID string `json:"id"`
}

func (h *Header) Type() string   { return h.MsgType }
func (h *Header) ReqID() int64   { return h.RequestID }
func (h *Header) Err() *APIError { return h.Error }
func (h *Header) sealed()        {}

func (h *Header) SubscriptionID() string {
	if h.Subscription == nil {
		return ""
	}
	return h.Subscription.ID
}

// ID is an exchange identifier that arrives either as a number or a string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*id = ID(v)
		return nil
	}
	*id = ID(s)
	return nil
}

// Float is a number that may be quoted on the wire.
type Float float64

func (f *Float) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*f = Float(v)
	return nil
}

// Ptr returns the value as *float64, nil for a nil receiver.
func (f *Float) Ptr() *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}

// AuthorizeMessage confirms authorization.
type AuthorizeMessage struct {
	Header
	Authorize struct {
		LoginID  string `json:"loginid"`
		Currency string `json:"currency"`
		Balance  Float  `json:"balance"`
	} `json:"authorize"`
}

// TickMessage is one sample of a tick stream.
type TickMessage struct {
	Header
	Tick struct {
		Symbol  string `json:"symbol"`
		Quote   Float  `json:"quote"`
		Epoch   int64  `json:"epoch"`
		PipSize Float  `json:"pip_size"`
	} `json:"tick"`
}

// ToTick converts the payload into a domain tick.
func (m *TickMessage) ToTick() domain.Tick {
	return domain.Tick{
		Symbol:  m.Tick.Symbol,
		Quote:   float64(m.Tick.Quote),
		Epoch:   m.Tick.Epoch,
		PipSize: int(m.Tick.PipSize),
	}
}

// ProposalMessage is a priced quote.
type ProposalMessage struct {
	Header
	Proposal struct {
		ID       string `json:"id"`
		AskPrice Float  `json:"ask_price"`
		Payout   Float  `json:"payout"`
		Spot     Float  `json:"spot"`
	} `json:"proposal"`
}

// BuyMessage acknowledges a purchase.
type BuyMessage struct {
	Header
	Buy struct {
		ContractID    ID    `json:"contract_id"`
		TransactionID ID    `json:"transaction_id"`
		BuyPrice      Float `json:"buy_price"`
		Payout        Float `json:"payout"`
		StartTime     int64 `json:"start_time"`
	} `json:"buy"`
}

// ContractStatus is the proposal_open_contract payload.
type ContractStatus struct {
	ContractID    ID     `json:"contract_id"`
	ContractType  string `json:"contract_type"`
	Underlying    string `json:"underlying"`
	Status        string `json:"status"`
	IsSettled     int    `json:"is_settled"`
	IsExpired     int    `json:"is_expired"`
	IsSold        int    `json:"is_sold"`
	BuyPrice      Float  `json:"buy_price"`
	Payout        Float  `json:"payout"`
	SellPrice     *Float `json:"sell_price"`
	Profit        *Float `json:"profit"`
	EntryTick     *Float `json:"entry_tick"`
	ExitTick      *Float `json:"exit_tick"`
	ExitTickTime  int64  `json:"exit_tick_time"`
	CurrentSpot   *Float `json:"current_spot"`
	Barrier       string `json:"barrier"`
	TransactionID ID     `json:"transaction_id"`
}

// OpenContractMessage reports a contract's status, pushed or queried.
type OpenContractMessage struct {
	Header
	Contract ContractStatus `json:"proposal_open_contract"`
}

// PortfolioContract is one open position.
type PortfolioContract struct {
	ContractID    ID     `json:"contract_id"`
	TransactionID ID     `json:"transaction_id"`
	ContractType  string `json:"contract_type"`
	Symbol        string `json:"symbol"`
	BuyPrice      Float  `json:"buy_price"`
	Payout        Float  `json:"payout"`
}

// PortfolioMessage lists open positions.
type PortfolioMessage struct {
	Header
	Portfolio struct {
		Contracts []PortfolioContract `json:"contracts"`
	} `json:"portfolio"`
}

// ProfitTableEntry is one closed contract.
type ProfitTableEntry struct {
	ContractID    ID     `json:"contract_id"`
	TransactionID ID     `json:"transaction_id"`
	ContractType  string `json:"contract_type"`
	BuyPrice      Float  `json:"buy_price"`
	SellPrice     Float  `json:"sell_price"`
	Payout        Float  `json:"payout"`
	SellTime      int64  `json:"sell_time"`
}

// ProfitTableMessage lists recently closed contracts.
type ProfitTableMessage struct {
	Header
	ProfitTable struct {
		Count        int                `json:"count"`
		Transactions []ProfitTableEntry `json:"transactions"`
	} `json:"profit_table"`
}

// BalanceMessage reports the account balance.
type BalanceMessage struct {
	Header
	Balance struct {
		Balance  Float  `json:"balance"`
		Currency string `json:"currency"`
	} `json:"balance"`
}

// PingMessage is either the reply to our heartbeat ("pong") or a server
// initiated ping that must be answered.
type PingMessage struct {
	Header
	Ping string `json:"ping"`
}

// IsReply reports whether this is the answer to a client ping.
func (m *PingMessage) IsReply() bool { return m.Ping == "pong" }

// PongMessage acknowledges a client pong.
type PongMessage struct {
	Header
}

// UnknownMessage carries any msg_type this client does not model.
type UnknownMessage struct {
	Header
	Raw json.RawMessage
}

// Decode parses one inbound frame into its concrete message type.
func Decode(raw []byte) (Message, error) {
	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}

	var msg Message
	switch h.MsgType {
	case TypeAuthorize:
		msg = &AuthorizeMessage{}
	case TypeTick:
		msg = &TickMessage{}
	case TypeProposal:
		msg = &ProposalMessage{}
	case TypeBuy:
		msg = &BuyMessage{}
	case TypeOpenContract:
		msg = &OpenContractMessage{}
	case TypePortfolio:
		msg = &PortfolioMessage{}
	case TypeProfitTable:
		msg = &ProfitTableMessage{}
	case TypeBalance:
		msg = &BalanceMessage{}
	case TypePing:
		msg = &PingMessage{}
	case TypePong:
		msg = &PongMessage{}
	default:
		return &UnknownMessage{Header: h, Raw: append(json.RawMessage(nil), raw...)}, nil
	}

	// An error envelope may come with a body the concrete type cannot parse;
	// keep the header so the error is still delivered.
	if err := json.Unmarshal(raw, msg); err != nil {
		if h.Error != nil {
			return &UnknownMessage{Header: h, Raw: append(json.RawMessage(nil), raw...)}, nil
		}
		return nil, fmt.Errorf("decode %s: %w", h.MsgType, err)
	}
	return msg, nil
}
