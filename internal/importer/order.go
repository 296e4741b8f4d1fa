package importer

import "github.com/lherron/iatisync/internal/iati"

// groupOrder is the fixed processing order. Participating organizations
// run first so the resolver cache is warm for the financial groups.
var groupOrder = []iati.Group{
	iati.GroupParticipatingOrgs,
	iati.GroupSectors,
	iati.GroupLocations,
	iati.GroupPolicyMarkers,
	iati.GroupHumanitarianScope,
	iati.GroupTransactions,
	iati.GroupBudgets,
	iati.GroupPlannedDisbursements,
	iati.GroupFinancingTerms,
	iati.GroupDocumentLinks,
	iati.GroupTags,
	iati.GroupCountryBudgetItems,
	iati.GroupRelatedActivities,
	iati.GroupContacts,
	iati.GroupConditions,
}
