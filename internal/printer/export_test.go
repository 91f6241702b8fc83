package printer

var TimeAgoAt = timeAgo
