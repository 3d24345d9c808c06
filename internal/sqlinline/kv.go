package sqlinline

const QSelectKVEntry = `--sql f4401422-b90c-4655-8aba-e0c1e04ebac5
select value
from kv_entries
where key = $1
limit 1;
`

const QUpsertKVEntry = `--sql d5041f6c-baf4-43a0-9913-5cfe0a0bd203
insert into kv_entries(key, value, updated_at)
values ($1, $2, now())
on conflict (key) do update
set value = excluded.value,
    updated_at = now();
`

const QInsertKVEntryIfAbsent = `--sql 5395b9c2-14f6-476a-aee1-c11dbac9b63e
insert into kv_entries(key, value, updated_at)
values ($1, $2, now())
on conflict (key) do nothing;
`

const QDeleteKVEntry = `--sql aecbcd72-856a-415c-ba12-ded6e94934cd
delete from kv_entries
where key = $1;
`
