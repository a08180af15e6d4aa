package redis

// Redis key naming conventions for tenantrun data.
// All keys share a prefix, "tenantrun:" unless WithKeyPrefix is used.

const defaultKeyPrefix = "tenantrun:"

type keys struct {
	prefix string
}

// lock returns the Hash key holding a job's lease: tenantrun:lock:{job}
func (k keys) lock(jobName string) string { return k.prefix + "lock:" + jobName }

// execution returns the key of an encoded execution: tenantrun:exec:{id}
func (k keys) execution(id string) string { return k.prefix + "exec:" + id }

// history returns the Sorted Set of a job's execution IDs scored by
// start time in milliseconds: tenantrun:history:{job}
func (k keys) history(jobName string) string { return k.prefix + "history:" + jobName }

// tenant returns the key of an encoded tenant execution: tenantrun:texec:{id}
func (k keys) tenant(id string) string { return k.prefix + "texec:" + id }

// tenants returns the List of tenant execution IDs of a run, in creation
// order: tenantrun:exec_tenants:{execID}
func (k keys) tenants(execID string) string { return k.prefix + "exec_tenants:" + execID }
