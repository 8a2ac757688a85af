package sqlinline

const QSelectUserPlan = `--sql a87086ea-8aad-4bae-950b-aa73294c25cf
select plan
from users
where id = $1::uuid
limit 1;
`

const QSelectUserPlanByID = `--sql 5b0e7f4c-2a61-4d8e-9c3f-71a2b8d6e4f0
select id::text, coalesce(email, ''), plan
from users
where id = $1::uuid
limit 1;
`

const QSelectUserPlanByEmail = `--sql c2f81a9d-6e37-4b05-a4d8-0f9e3b7c1a52
select id::text, coalesce(email, ''), plan
from users
where lower(email) = lower($1)
limit 1;
`

const QUpdateUserPlan = `--sql 9e4d2c17-b083-4f6a-8d51-3a7c0e9b2f84
update users
set plan = $2,
    updated_at = now()
where id = $1::uuid
returning id::text, coalesce(email, ''), plan;
`
