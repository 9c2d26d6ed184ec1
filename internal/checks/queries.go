package checks

const (
	buyerBacklogQuery = `
SELECT COUNT(*) AS open_requests
FROM buyer_requests
WHERE status = 'OPEN'
AND created_at >= NOW() - INTERVAL '2 hours'`

	slaBreachQuery = `
SELECT
    COUNT(*) AS total_claims,
    COUNT(CASE WHEN claim_age_hours > 0.5 THEN 1 END) AS sla_breaches
FROM (
    SELECT EXTRACT(EPOCH FROM (NOW() - c.claimed_at)) / 3600 AS claim_age_hours
    FROM claims c
    WHERE c.status = 'ACTIVE'
    AND c.claimed_at >= NOW() - INTERVAL '1 hour'
) t`

	rlsDenialsQuery = `
SELECT COUNT(*) AS rls_denials
FROM security_events
WHERE event_type = 'RLS_DENIED'
AND created_at >= NOW() - INTERVAL '1 hour'`

	impersonationsQuery = `
SELECT COUNT(*) AS impersonations
FROM security_events
WHERE event_type = 'IMPERSONATION'
AND created_at >= NOW() - INTERVAL '24 hours'`

	paymentFailuresQuery = `
SELECT
    COUNT(*) AS total_payments,
    COUNT(CASE WHEN status = 'FAILED' THEN 1 END) AS failed_payments
FROM payments
WHERE created_at >= NOW() - INTERVAL '1 hour'`

	licenseExpiryQuery = `
SELECT COUNT(*) AS expiring_licenses
FROM agent_profiles
WHERE license_valid_to IS NOT NULL
AND license_valid_to BETWEEN NOW() AND NOW() + INTERVAL '30 days'
AND status = 'ACTIVE'`

	pipelineFreshnessQuery = `
SELECT MAX(created_at) AS latest_claim
FROM claims`
)
