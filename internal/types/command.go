// internal/types/command.go
package types

// CommandType identifies an operator command arriving over the control
// channel.
type CommandType string

const (
	CmdManualBuy     CommandType = "manual_buy"
	CmdManualSell    CommandType = "manual_sell"
	CmdPartialExit   CommandType = "partial_exit"
	CmdClosePosition CommandType = "close_position"
	CmdCloseAll      CommandType = "close_all"
	CmdPause         CommandType = "pause"
	CmdResume        CommandType = "resume"
	CmdUpdateConfig  CommandType = "update_config"
	CmdEmergencyStop CommandType = "emergency_stop"
)

// Command is one operator instruction. Fields beyond Type are only read by
// the commands that need them.
type Command struct {
	Type      CommandType        `json:"type"`
	TokenMint string             `json:"token_mint,omitempty"`
	SolAmount float64            `json:"sol_amount,omitempty"`
	Percent   float64            `json:"percent,omitempty"`
	Params    map[string]float64 `json:"params,omitempty"`
}
