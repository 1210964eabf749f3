package models

import "time"

// StatusCompleted is the status value counted as completed in Stats.
const StatusCompleted = "Завершено"

// Row is one record of the shared table. Rows are created by the import
// pipeline and never deleted here.
type Row struct {
	ID             int64      `json:"id"`
	RegionID       *int64     `json:"region_id"`
	DistrictID     int64      `json:"district_id"`
	ClientName     string     `json:"client_name"`
	ContractNumber string     `json:"contract_number"`
	Amount         float64    `json:"amount"`
	Status         string     `json:"status"`
	ManagerComment string     `json:"manager_comment"`
	HasError       bool       `json:"has_error"`
	ExecutorID     *int64     `json:"executor_id"`
	ExecutorName   *string    `json:"executor_name,omitempty"`
	LastModifiedBy *int64     `json:"last_modified_by"`
	LastModifiedAt *time.Time `json:"last_modified_at"`
}

// Value returns the current value of an editable field.
func (r *Row) Value(f Field) any {
	switch f.Name {
	case FieldClientName:
		return r.ClientName
	case FieldContractNumber:
		return r.ContractNumber
	case FieldAmount:
		return r.Amount
	case FieldStatus:
		return r.Status
	case FieldManagerComment:
		return r.ManagerComment
	}
	return nil
}

// Set assigns a normalized value to an editable field.
func (r *Row) Set(f Field, v any) {
	switch f.Name {
	case FieldClientName:
		r.ClientName, _ = v.(string)
	case FieldContractNumber:
		r.ContractNumber, _ = v.(string)
	case FieldAmount:
		r.Amount, _ = v.(float64)
	case FieldStatus:
		r.Status, _ = v.(string)
	case FieldManagerComment:
		r.ManagerComment, _ = v.(string)
	}
}

// Clone returns a deep copy.
func (r *Row) Clone() *Row {
	c := *r
	if r.RegionID != nil {
		v := *r.RegionID
		c.RegionID = &v
	}
	if r.ExecutorID != nil {
		v := *r.ExecutorID
		c.ExecutorID = &v
	}
	if r.ExecutorName != nil {
		v := *r.ExecutorName
		c.ExecutorName = &v
	}
	if r.LastModifiedBy != nil {
		v := *r.LastModifiedBy
		c.LastModifiedBy = &v
	}
	if r.LastModifiedAt != nil {
		v := *r.LastModifiedAt
		c.LastModifiedAt = &v
	}
	return &c
}

// RowFilter narrows a visible-rows listing.
type RowFilter struct {
	IDs []int64
}

// Stats aggregates the rows visible under a scope.
type Stats struct {
	TotalRows      int64   `json:"total_rows"`
	TotalAmount    float64 `json:"total_amount"`
	CompletedCount int64   `json:"completed_count"`
	ErrorCount     int64   `json:"error_count"`
}

// Change is emitted once per committed cell update.
type Change struct {
	RowID      int64     `json:"id"`
	DistrictID int64     `json:"district_id"`
	Field      string    `json:"field"`
	OldValue   any       `json:"old_value"`
	Value      any       `json:"value"`
	ActorID    int64     `json:"actor_id"`
	ActorLogin string    `json:"user"`
	AuditID    int64     `json:"audit_id"`
	At         time.Time `json:"at"`
	RequestID  string    `json:"request_id,omitempty"`
}
