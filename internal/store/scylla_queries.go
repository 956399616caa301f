package store

const (
	qProductByID = `SELECT id, name, description, price_cents, stock, is_active, created_at, updated_at
		FROM products WHERE id = ?`
	qProductsAll = `SELECT id, name, description, price_cents, stock, is_active, created_at, updated_at
		FROM products`
	qStockOf    = `SELECT name, stock FROM products WHERE id = ?`
	qStockCAS   = `UPDATE products SET stock = ?, updated_at = ? WHERE id = ? IF stock = ?`
	qInsertMove = `INSERT INTO stock_movements (product_id, created_at, id, type, quantity, new_stock, reason, order_id, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	qOrderNumberClaim   = `INSERT INTO orders_by_number (order_number, order_id) VALUES (?, ?) IF NOT EXISTS`
	qOrderNumberRelease = `DELETE FROM orders_by_number WHERE order_number = ? IF order_id = ?`
	qInsertOrder        = `INSERT INTO orders (id, order_number, user_id, status,
		shipping_address, city, state, zip_code, country, phone_number, notes,
		subtotal_cents, shipping_cents, tax_cents, total_cents, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	qInsertOrderItem = `INSERT INTO order_items (order_id, position, product_id, product_name, price_cents, quantity, subtotal_cents)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	qInsertOrderByUser = `INSERT INTO orders_by_user (user_id, created_at, order_id) VALUES (?, ?, ?)`
	qOrderByID         = `SELECT id, order_number, user_id, status,
		shipping_address, city, state, zip_code, country, phone_number, notes,
		subtotal_cents, shipping_cents, tax_cents, total_cents, created_at, updated_at
		FROM orders WHERE id = ?`
	qOrderItems     = `SELECT product_id, product_name, price_cents, quantity, subtotal_cents FROM order_items WHERE order_id = ?`
	qOrdersByUser   = `SELECT order_id FROM orders_by_user WHERE user_id = ?`
	qOrderStatusCAS = `UPDATE orders SET status = ?, updated_at = ? WHERE id = ? IF status = ?`

	paymentColumns = `id, order_id, user_id, method, status, amount_cents, currency,
		gateway_intent_id, gateway_customer_id, transaction_id, failure_reason, created_at, updated_at, paid_at`
	qInsertPayment = `INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	qPaymentByID         = `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`
	qPaymentCAS          = `UPDATE payments SET status = ?, transaction_id = ?, failure_reason = ?, updated_at = ?, paid_at = ? WHERE id = ? IF status = ?`
	qInsertPaymentByOrd  = `INSERT INTO payments_by_order (order_id, created_at, payment_id) VALUES (?, ?, ?)`
	qInsertPaymentByUser = `INSERT INTO payments_by_user (user_id, created_at, payment_id) VALUES (?, ?, ?)`
	qInsertPaymentByInt  = `INSERT INTO payments_by_intent (intent_id, payment_id) VALUES (?, ?)`
	qLatestPaymentOfOrd  = `SELECT payment_id FROM payments_by_order WHERE order_id = ? LIMIT 1`
	qPaymentsOfUser      = `SELECT payment_id FROM payments_by_user WHERE user_id = ?`
	qPaymentOfIntent     = `SELECT payment_id FROM payments_by_intent WHERE intent_id = ?`
	qUpsertCustomer      = `INSERT INTO customers_by_user (user_id, customer_id, updated_at) VALUES (?, ?, ?)`
	qCustomerOfUser      = `SELECT customer_id FROM customers_by_user WHERE user_id = ?`

	refundColumns = `payment_id, id, user_id, amount_cents, reason, status, gateway_refund_id, created_at, updated_at, processed_at`
	qUpsertRefund = `INSERT INTO refunds (` + refundColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	qRefundExists = `SELECT id FROM refunds WHERE payment_id = ? AND id = ?`
	qRefundsOfPay = `SELECT ` + refundColumns + ` FROM refunds WHERE payment_id = ?`
	qRefundOne    = `SELECT ` + refundColumns + ` FROM refunds WHERE payment_id = ? AND id = ?`
	qInsertRefUsr = `INSERT INTO refunds_by_user (user_id, created_at, refund_id, payment_id) VALUES (?, ?, ?, ?)`
	qRefundsOfUsr = `SELECT payment_id, refund_id FROM refunds_by_user WHERE user_id = ?`
)
