package shield

// Schema holds the per-endpoint rate rules read by EndpointLimiter and the
// single-row maintenance flag. Login is throttled out of the box.
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint       TEXT PRIMARY KEY,
    max_requests   INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled        INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS maintenance (
    id      INTEGER PRIMARY KEY CHECK (id = 1),
    active  INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT 'მიმდინარეობს ტექნიკური სამუშაოები, გთხოვთ მოიცადოთ.'
);

INSERT OR IGNORE INTO maintenance (id, active) VALUES (1, 0);

INSERT OR IGNORE INTO rate_limits (endpoint, max_requests, window_seconds)
VALUES ('POST /api/auth/login', 10, 300);
`
