package sqlinline

// QSelectIntegrationToken ignores rows whose token was blanked out.
const QSelectIntegrationToken = `--sql c2f13e80-20cb-45c0-8377-63d914cca22a
select token
from integration_tokens
where provider = $1::text
  and btrim(token) <> ''
limit 1;
`

// QUpsertIntegrationToken merges properties so a token rotation keeps the
// recorded model unless a new one is given.
const QUpsertIntegrationToken = `--sql 5fad942c-a033-4069-80aa-4359c09d3591
insert into integration_tokens (provider, token, properties)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb))
on conflict (provider) do update set
    token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`
