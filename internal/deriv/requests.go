package deriv

import "encoding/json"

// Request is any outbound call. The correlator stamps req_id before sending.
type Request interface {
	SetReqID(id int64)
}

// Envelope carries the client-assigned correlation id.
type Envelope struct {
	ReqID int64 `json:"req_id,omitempty"`
}

// SetReqID implements Request.
func (e *Envelope) SetReqID(id int64) { e.ReqID = id }

// AuthorizeRequest authorizes the connection with an API token.
type AuthorizeRequest struct {
	Authorize string `json:"authorize"`
	Envelope
}

// TicksRequest subscribes to the tick stream of one market.
type TicksRequest struct {
	Ticks     string `json:"ticks"`
	Subscribe int    `json:"subscribe,omitempty"`
	Envelope
}

// ProposalRequest asks for a priced quote.
type ProposalRequest struct {
	Proposal     int     `json:"proposal"`
	Amount       float64 `json:"amount"`
	Basis        string  `json:"basis"`
	ContractType string  `json:"contract_type"`
	Currency     string  `json:"currency"`
	Duration     int     `json:"duration"`
	DurationUnit string  `json:"duration_unit"`
	Symbol       string  `json:"symbol"`
	Barrier      string  `json:"barrier,omitempty"`
	Envelope
}

// BuyParameters describe a contract bought without a prior proposal.
type BuyParameters struct {
	Amount       float64 `json:"amount"`
	Basis        string  `json:"basis"`
	ContractType string  `json:"contract_type"`
	Currency     string  `json:"currency"`
	Duration     int     `json:"duration"`
	DurationUnit string  `json:"duration_unit"`
	Symbol       string  `json:"symbol"`
	Barrier      string  `json:"barrier,omitempty"`
}

// BuyRequest purchases a proposal, or with Parameters set buys directly
// (Buy must then be "1").
type BuyRequest struct {
	Buy        string         `json:"buy"`
	Price      float64        `json:"price"`
	Parameters *BuyParameters `json:"parameters,omitempty"`
	Envelope
}

// OpenContractRequest queries (or subscribes to) one contract's status.
type OpenContractRequest struct {
	ProposalOpenContract int         `json:"proposal_open_contract"`
	ContractID           json.Number `json:"contract_id"`
	Subscribe            int         `json:"subscribe,omitempty"`
	Envelope
}

// PortfolioRequest lists the account's open positions.
type PortfolioRequest struct {
	Portfolio int `json:"portfolio"`
	Envelope
}

// ProfitTableRequest lists recently closed contracts.
type ProfitTableRequest struct {
	ProfitTable int    `json:"profit_table"`
	Description int    `json:"description,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Sort        string `json:"sort,omitempty"`
	Envelope
}

// BalanceRequest reads (or subscribes to) the account balance.
type BalanceRequest struct {
	Balance   int `json:"balance"`
	Subscribe int `json:"subscribe,omitempty"`
	Envelope
}

// PingRequest is the client heartbeat.
type PingRequest struct {
	Ping int `json:"ping"`
	Envelope
}

// PongRequest answers an unsolicited server ping.
type PongRequest struct {
	Pong int `json:"pong"`
	Envelope
}

// ForgetAllRequest cancels every stream of the given types.
type ForgetAllRequest struct {
	ForgetAll []string `json:"forget_all"`
	Envelope
}

// Convenience constructors.

func NewAuthorize(token string) *AuthorizeRequest {
	return &AuthorizeRequest{Authorize: token}
}

func NewTicks(symbol string) *TicksRequest {
	return &TicksRequest{Ticks: symbol, Subscribe: 1}
}

func NewBalance(subscribe bool) *BalanceRequest {
	r := &BalanceRequest{Balance: 1}
	if subscribe {
		r.Subscribe = 1
	}
	return r
}

func NewOpenContract(contractID string) *OpenContractRequest {
	return &OpenContractRequest{ProposalOpenContract: 1, ContractID: json.Number(contractID)}
}

func NewPortfolio() *PortfolioRequest { return &PortfolioRequest{Portfolio: 1} }

func NewProfitTable(limit int) *ProfitTableRequest {
	return &ProfitTableRequest{ProfitTable: 1, Description: 1, Limit: limit, Sort: "DESC"}
}

func NewPing() *PingRequest { return &PingRequest{Ping: 1} }

func NewPong() *PongRequest { return &PongRequest{Pong: 1} }
