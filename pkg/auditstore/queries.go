package auditstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/coreledger/validator-core/pkg/errs"
)

func topicsToJSON(topics []string) []byte {
	b, _ := json.Marshal(topics)
	return b
}

// whereClause builds the WHERE predicate and positional args for f. Event
// address/topics are applied as a join against event_logs; every other
// field maps directly onto a receipts column.
func (f Filter) whereClause(startArg int) (string, []interface{}, bool) {
	var clauses []string
	var args []interface{}
	arg := startArg
	next := func(v interface{}) string {
		args = append(args, v)
		arg++
		return fmt.Sprintf("$%d", arg-1)
	}

	if f.MinHeight != nil {
		clauses = append(clauses, "r.block_height >= "+next(*f.MinHeight))
	}
	if f.MaxHeight != nil {
		clauses = append(clauses, "r.block_height <= "+next(*f.MaxHeight))
	}
	if f.FromAddress != "" {
		clauses = append(clauses, "r.from_address = "+next(f.FromAddress))
	}
	if f.ToAddress != "" {
		clauses = append(clauses, "r.to_address = "+next(f.ToAddress))
	}
	if f.Status != nil {
		clauses = append(clauses, "r.status = "+next(*f.Status))
	}
	if f.MinTimestamp != nil {
		clauses = append(clauses, "r.timestamp >= "+next(*f.MinTimestamp))
	}
	if f.MaxTimestamp != nil {
		clauses = append(clauses, "r.timestamp <= "+next(*f.MaxTimestamp))
	}
	if f.MinGasUsed != nil {
		clauses = append(clauses, "r.gas_used >= "+next(*f.MinGasUsed))
	}
	if f.MaxGasUsed != nil {
		clauses = append(clauses, "r.gas_used <= "+next(*f.MaxGasUsed))
	}

	needsEventJoin := f.EventAddress != "" || len(f.EventTopics) > 0
	if f.EventAddress != "" {
		clauses = append(clauses, "e.address = "+next(f.EventAddress))
	}
	for _, topic := range f.EventTopics {
		clauses = append(clauses, "e.topics @> "+next(topicsToJSON([]string{topic})))
	}

	if len(clauses) == 0 {
		return "", nil, needsEventJoin
	}
	return "WHERE " + strings.Join(clauses, " AND "), args, needsEventJoin
}

func (f Filter) fromClause(needsEventJoin bool) string {
	if needsEventJoin {
		return "FROM receipts r JOIN event_logs e ON e.tx_hash = r.tx_hash"
	}
	return "FROM receipts r"
}

// Query returns receipts matching f, paginated per page, ordered by
// block_height (then tx_index) ascending or descending.
func (s *Store) Query(ctx context.Context, f Filter, page Page) ([]TxReceipt, error) {
	where, args, needsJoin := f.whereClause(1)
	order := "DESC"
	if page.Ascending {
		order = "ASC"
	}
	limit := page.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT r.tx_hash, r.block_hash, r.block_height, r.tx_index, r.from_address,
			COALESCE(r.to_address,''), COALESCE(r.contract_address,''), r.status, r.gas_limit,
			r.gas_used, r.gas_price, r.gas_fee, r.timestamp, r.receipt_data, r.logs_bloom
		%s
		%s
		ORDER BY r.block_height %s, r.tx_index %s
		LIMIT %d OFFSET %d`,
		f.fromClause(needsJoin), where, order, order, limit, page.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "auditstore.Query", "query failed", err)
	}
	defer rows.Close()

	var out []TxReceipt
	for rows.Next() {
		var r TxReceipt
		var bloomBytes []byte
		if err := rows.Scan(&r.TxHash, &r.BlockHash, &r.BlockHeight, &r.TxIndex, &r.FromAddress,
			&r.ToAddress, &r.ContractAddress, &r.Status, &r.GasLimit, &r.GasUsed, &r.GasPrice,
			&r.GasFee, &r.Timestamp, &r.ReceiptData, &bloomBytes); err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, "auditstore.Query", "scan failed", err)
		}
		r.LogsBloom = types.BytesToBloom(bloomBytes)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Aggregate returns count/sum/average of gas_used across f's matching set.
func (s *Store) Aggregate(ctx context.Context, f Filter) (Aggregate, error) {
	where, args, needsJoin := f.whereClause(1)
	query := fmt.Sprintf(`
		SELECT COUNT(DISTINCT r.tx_hash), COALESCE(SUM(r.gas_used),0), COALESCE(AVG(r.gas_used),0)
		%s %s`, f.fromClause(needsJoin), where)

	var agg Aggregate
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&agg.Count, &agg.GasSum, &agg.GasAvg)
	if err != nil {
		return Aggregate{}, errs.Wrap(errs.KindConfiguration, "auditstore.Aggregate", "aggregate query failed", err)
	}
	return agg, nil
}

// GetByHash returns a single TxReceipt by its primary key, or errs.KindNotFound.
func (s *Store) GetByHash(ctx context.Context, txHash string) (TxReceipt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tx_hash, block_hash, block_height, tx_index, from_address,
			COALESCE(to_address,''), COALESCE(contract_address,''), status, gas_limit,
			gas_used, gas_price, gas_fee, timestamp, receipt_data, logs_bloom
		FROM receipts WHERE tx_hash = $1`, txHash)

	var r TxReceipt
	var bloomBytes []byte
	err := row.Scan(&r.TxHash, &r.BlockHash, &r.BlockHeight, &r.TxIndex, &r.FromAddress,
		&r.ToAddress, &r.ContractAddress, &r.Status, &r.GasLimit, &r.GasUsed, &r.GasPrice,
		&r.GasFee, &r.Timestamp, &r.ReceiptData, &bloomBytes)
	if err == sql.ErrNoRows {
		return TxReceipt{}, errs.New(errs.KindNotFound, "auditstore.GetByHash", "receipt not found")
	}
	if err != nil {
		return TxReceipt{}, errs.Wrap(errs.KindConfiguration, "auditstore.GetByHash", "query failed", err)
	}
	r.LogsBloom = types.BytesToBloom(bloomBytes)
	return r, nil
}

// BloomSearch returns every receipt whose logs_bloom has a non-zero
// byte-wise AND intersection with filter. This runs
// client-side over a height-bounded candidate set rather than pushing
// the bitwise AND into SQL, since Postgres has no native bytea-AND
// aggregate; callers needing this at scale should bound minHeight/maxHeight.
func (s *Store) BloomSearch(ctx context.Context, filter types.Bloom, f Filter, page Page) ([]TxReceipt, error) {
	candidates, err := s.Query(ctx, f, page)
	if err != nil {
		return nil, err
	}
	var out []TxReceipt
	for _, r := range candidates {
		if bloomIntersects(r.LogsBloom, filter) {
			out = append(out, r)
		}
	}
	return out, nil
}

func bloomIntersects(a, b types.Bloom) bool {
	for i := range a {
		if a[i]&b[i] != 0 {
			return true
		}
	}
	return false
}
