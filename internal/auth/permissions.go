package auth

const (
	PermElectionCreate    Permission = "election:create"
	PermElectionManage    Permission = "election:manage"
	PermElectionView      Permission = "election:view"
	PermCandidateManage   Permission = "candidate:manage"
	PermResultSubmit      Permission = "result:submit"
	PermResultVerify      Permission = "result:verify"
	PermResultPublish     Permission = "result:publish"
	PermVoterManage       Permission = "voter:manage"
	PermVoterVerify       Permission = "voter:verify"
	PermAdminManage       Permission = "admin:manage"
	PermRegionManage      Permission = "region:manage"
	PermPollingUnitManage Permission = "polling_unit:manage"
	PermAuditRead         Permission = "audit:read"
	PermVoteCast          Permission = "vote:cast"
	PermProfileRead       Permission = "profile:read"
	PermProfileUpdate     Permission = "profile:update"
)

const (
	RoleSystemAdministrator      Role = "SystemAdministrator"
	RoleElectoralCommissioner    Role = "ElectoralCommissioner"
	RoleSecurityOfficer          Role = "SecurityOfficer"
	RoleRegionalElectoralOfficer Role = "RegionalElectoralOfficer"
	RoleElectionManager          Role = "ElectionManager"
	RoleResultVerifier           Role = "ResultVerifier"
	RolePollingUnitOfficer       Role = "PollingUnitOfficer"
	RoleElectionObserver         Role = "ElectionObserver"
	RoleVoter                    Role = "Voter"
)

// BuiltinRoles is the role table used when no override file is configured.
var BuiltinRoles = []RoleEntry{
	{Role: RoleSystemAdministrator, Rank: 100, Kind: KindAdmin},
	{Role: RoleElectoralCommissioner, Rank: 90, Kind: KindAdmin, Permissions: []Permission{
		PermElectionCreate, PermElectionManage, PermElectionView, PermCandidateManage,
		PermResultVerify, PermResultPublish, PermVoterManage, PermRegionManage, PermAuditRead,
	}},
	{Role: RoleSecurityOfficer, Rank: 80, Kind: KindAdmin, Permissions: []Permission{
		PermAuditRead, PermVoterVerify, PermElectionView,
	}},
	{Role: RoleRegionalElectoralOfficer, Rank: 70, Kind: KindAdmin, Permissions: []Permission{
		PermElectionManage, PermElectionView, PermResultVerify, PermVoterManage, PermPollingUnitManage,
	}},
	{Role: RoleElectionManager, Rank: 65, Kind: KindAdmin, Permissions: []Permission{
		PermElectionCreate, PermElectionManage, PermElectionView, PermCandidateManage,
	}},
	{Role: RoleResultVerifier, Rank: 60, Kind: KindAdmin, Permissions: []Permission{
		PermResultSubmit, PermResultVerify, PermElectionView,
	}},
	{Role: RolePollingUnitOfficer, Rank: 50, Kind: KindAdmin, Permissions: []Permission{
		PermResultSubmit, PermVoterVerify, PermElectionView,
	}},
	{Role: RoleElectionObserver, Rank: 30, Kind: KindAdmin, Permissions: []Permission{
		PermElectionView,
	}},
	{Role: RoleVoter, Rank: 10, Kind: KindVoter, Permissions: []Permission{
		PermVoteCast, PermProfileRead, PermProfileUpdate, PermElectionView,
	}},
}
